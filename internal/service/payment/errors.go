package payment

import "errors"

var (
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderAlreadyProcessed   = errors.New("order already processed")
	ErrTerminalConflict        = errors.New("payment already settled with a different status")
	ErrBankUnavailable         = errors.New("bank could not start the payment")
	ErrOrderServiceUnavailable = errors.New("order service unavailable")
)
