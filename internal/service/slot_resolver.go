package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"
)

// SlotResolver maps an identifier coming from a client, a sensor or the kiosk
// to a slot in the registry. Canonical slot numbers win; the alias table only
// exists for legacy sensor firmware that reports bare numbers ("1" -> "A1").
// There is no implicit number-to-zone rule: an unknown number is SlotNotFound.
type SlotResolver struct {
	slotRepo repository.ParkingSlotRepository
	aliases  map[string]string
}

func NewSlotResolver(slotRepo repository.ParkingSlotRepository, aliases map[string]string) *SlotResolver {
	table := make(map[string]string, len(aliases))
	for k, v := range aliases {
		table[strings.TrimSpace(k)] = strings.ToUpper(strings.TrimSpace(v))
	}
	return &SlotResolver{slotRepo: slotRepo, aliases: table}
}

func (r *SlotResolver) Resolve(ctx context.Context, id string) (*domain.ParkingSlot, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return nil, ErrSlotNotFound
	}

	slot, err := r.slotRepo.FindBySlotNumber(ctx, strings.ToUpper(raw))
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lỗi tra cứu chỗ đỗ %q: %w", raw, err)
	}

	alias, ok := r.aliases[raw]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSlotNotFound, raw)
	}
	slot, err = r.slotRepo.FindBySlotNumber(ctx, alias)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("SlotResolver: alias %q -> %q trỏ tới chỗ đỗ không tồn tại", raw, alias)
			return nil, fmt.Errorf("%w: %q", ErrSlotNotFound, raw)
		}
		return nil, fmt.Errorf("lỗi tra cứu chỗ đỗ %q: %w", alias, err)
	}
	return slot, nil
}
