package iot

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"parking_reservation/internal/service"
)

// SQSAPI là phần của sqs.Client mà consumer dùng.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EventHandler xử lý body của một message thiết bị.
type EventHandler interface {
	HandleDeviceEvent(ctx context.Context, body string) error
}

type SQSConsumer struct {
	sqsClient  SQSAPI
	queueURL   string
	handler    EventHandler
	retryDelay time.Duration
}

func NewSQSConsumer(client SQSAPI, queueURL string, handler EventHandler) *SQSConsumer {
	return &SQSConsumer{
		sqsClient:  client,
		queueURL:   queueURL,
		handler:    handler,
		retryDelay: 5 * time.Second,
	}
}

func (c *SQSConsumer) Start(ctx context.Context) {
	log.Printf("SQS Consumer đang bắt đầu lắng nghe queue: %s", c.queueURL)
	for {
		select {
		case <-ctx.Done():
			log.Println("SQS Consumer: context cancelled, stopping.")
			return
		default:
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				log.Println("SQS Consumer: context cancelled, stopping.")
				return
			}
			log.Printf("SQS Consumer: Lỗi khi nhận message: %v", err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				log.Println("SQS Consumer: context cancelled while waiting for retry.")
				return
			}
		}
	}
}

// poll nhận một lô message và xử lý từng cái.
func (c *SQSConsumer) poll(ctx context.Context) error {
	result, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return err
	}
	if len(result.Messages) == 0 {
		return nil
	}

	log.Printf("SQS Consumer: Đã nhận %d message(s)", len(result.Messages))
	for _, message := range result.Messages {
		if message.Body == nil {
			log.Println("SQS Consumer: Nhận được message với body rỗng. Đang xóa...")
			c.deleteMessage(ctx, message.ReceiptHandle)
			continue
		}

		processingErr := c.handler.HandleDeviceEvent(ctx, *message.Body)
		switch {
		case processingErr == nil:
			c.deleteMessage(ctx, message.ReceiptHandle)
		case service.IsClientError(processingErr):
			// gửi lại cũng sẽ lỗi y như vậy
			log.Printf("SQS Consumer: Message %s không hợp lệ, bỏ qua: %v", messageID(message.MessageId), processingErr)
			c.deleteMessage(ctx, message.ReceiptHandle)
		default:
			log.Printf("SQS Consumer: Lỗi khi xử lý message ID %s: %v. Message sẽ được xử lý lại sau visibility timeout.", messageID(message.MessageId), processingErr)
		}
	}
	return nil
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		log.Println("SQS Consumer: Receipt handle rỗng, không thể xóa message.")
		return
	}
	_, delErr := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: receiptHandle,
	})
	if delErr != nil {
		log.Printf("SQS Consumer: Lỗi khi xóa message: %v", delErr)
	}
}

func messageID(id *string) string {
	if id == nil {
		return "<nil>"
	}
	return *id
}
