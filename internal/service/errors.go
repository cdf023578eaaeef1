package service

import "errors"

// Lỗi nghiệp vụ của booking engine. Tất cả đều là lỗi phía client (4xx), không tự retry.
var (
	ErrInvalidWindow        = errors.New("khung thời gian không hợp lệ")
	ErrInvalidInput         = errors.New("dữ liệu đầu vào không hợp lệ")
	ErrSlotNotFound         = errors.New("không tìm thấy chỗ đỗ")
	ErrSlotConflict         = errors.New("chỗ đỗ đã được đặt trong khung giờ này")
	ErrVehicleConflict      = errors.New("xe này đã có booking trong khung giờ này")
	ErrBookingNotFound      = errors.New("không tìm thấy booking")
	ErrAlreadyTerminal      = errors.New("booking đã kết thúc hoặc đã hủy")
	ErrInvalidState         = errors.New("trạng thái booking không cho phép thao tác này")
	ErrVehicleNotRegistered = errors.New("biển số chưa được đăng ký trong tài khoản")
)

// IsClientError: lỗi do dữ liệu đầu vào, gửi lại cũng không thành công.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidWindow, ErrInvalidInput, ErrSlotNotFound, ErrSlotConflict, ErrVehicleConflict,
		ErrBookingNotFound, ErrAlreadyTerminal, ErrInvalidState, ErrVehicleNotRegistered,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
