package money

import (
	"errors"
	"math"
)

var (
	// ErrFeesExceedAmount is returned when fees would leave a negative net amount.
	ErrFeesExceedAmount = errors.New("fees are not lower than amount")
	// ErrBelowMinimalWithdraw is returned for withdrawals under the configured minimum.
	ErrBelowMinimalWithdraw = errors.New("amount is below minimal withdraw")
)

// FeeSchedule holds the fees charged on payouts. All amounts are in nanogrin.
type FeeSchedule struct {
	TransferFee     int64
	ServiceShare    float64
	MinimalWithdraw int64
}

// DefaultFeeSchedule returns the production fee schedule.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		TransferFee:     8_000_000,
		ServiceShare:    0.01,
		MinimalWithdraw: 1_000_000_000,
	}
}

// Quote is the fee breakdown for a payout amount.
type Quote struct {
	Amount      int64 `json:"amount"`
	TransferFee int64 `json:"transfer_fee"`
	ServiceFee  int64 `json:"service_fee"`
	Net         int64 `json:"net"`
}

// TransferFeeFor returns the fixed network transfer fee charged on amount.
func (f FeeSchedule) TransferFeeFor(amount int64) int64 {
	return f.TransferFee
}

// ServiceFee returns floor(amount * ServiceShare).
func (f FeeSchedule) ServiceFee(amount int64) int64 {
	return int64(math.Floor(float64(amount) * f.ServiceShare))
}

// Net returns the amount left after fees. Fees must leave a positive amount.
func (f FeeSchedule) Net(amount int64) (int64, error) {
	net := amount - f.TransferFeeFor(amount) - f.ServiceFee(amount)
	if net <= 0 {
		return 0, ErrFeesExceedAmount
	}
	return net, nil
}

// CheckWithdraw verifies amount is a valid withdrawal request.
func (f FeeSchedule) CheckWithdraw(amount int64) error {
	if amount <= 0 || amount < f.MinimalWithdraw {
		return ErrBelowMinimalWithdraw
	}
	return nil
}

// Quote computes the complete fee breakdown for amount.
func (f FeeSchedule) Quote(amount int64) (Quote, error) {
	net, err := f.Net(amount)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Amount:      amount,
		TransferFee: f.TransferFeeFor(amount),
		ServiceFee:  f.ServiceFee(amount),
		Net:         net,
	}, nil
}
