package payment

import "errors"

var (
	ErrNotFound                = errors.New("payment not found")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrNotRefundable           = errors.New("payment is not refundable")
	ErrRefundExceedsRefundable = errors.New("refund exceeds refundable amount")
	ErrInvalidStatusTransition = errors.New("invalid payment status transition")
)
