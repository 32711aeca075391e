package valueobject

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
)

// Money хранит сумму в минимальных единицах валюты (центах).
// Вся арифметика комиссий выполняется только над центами.
type Money int64

var (
	hundred     = decimal.NewFromInt(100)
	maxCents    = decimal.NewFromInt(math.MaxInt64)
	errBadMoney = apperror.New(apperror.ErrCodeValidation, "некорректная сумма")
)

// MoneyFromDecimal переводит десятичную сумму в центы (округление half away from zero).
func MoneyFromDecimal(amount decimal.Decimal) (Money, error) {
	cents := amount.Mul(hundred).Round(0)
	if cents.Abs().GreaterThan(maxCents) {
		return 0, apperror.New(apperror.ErrCodeValidation, "сумма слишком велика")
	}
	return Money(cents.IntPart()), nil
}

// ParseMoney разбирает строку вида "100.00".
func ParseMoney(raw string) (Money, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректная сумма")
	}
	return MoneyFromDecimal(amount)
}

// Cents возвращает сумму в центах.
func (m Money) Cents() int64 {
	return int64(m)
}

// Decimal возвращает сумму в основных единицах валюты. Только для отображения.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// IsPositive сообщает, что сумма больше нуля.
func (m Money) IsPositive() bool {
	return m > 0
}

// MarshalJSON пишет сумму числом с двумя знаками после точки.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON принимает число или числовую строку.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" {
		return nil
	}
	if raw == "" {
		return errBadMoney
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = parsed
	return nil
}

// SplitFee делит сумму на комиссию платформы и выплату продавцу.
// fee = round(amount * percent / 100), payout = amount - fee, поэтому fee + payout == amount.
func SplitFee(amount Money, percent decimal.Decimal) (fee Money, payout Money, err error) {
	if !amount.IsPositive() {
		return 0, 0, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if err := ValidateFeePercent(percent); err != nil {
		return 0, 0, err
	}

	feeCents := decimal.NewFromInt(int64(amount)).Mul(percent).Div(hundred).Round(0)
	fee = Money(feeCents.IntPart())
	return fee, amount - fee, nil
}

// ValidateFeePercent проверяет, что процент комиссии лежит в [0, 100].
func ValidateFeePercent(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return apperror.New(apperror.ErrCodeValidation, "процент комиссии должен быть от 0 до 100")
	}
	return nil
}
