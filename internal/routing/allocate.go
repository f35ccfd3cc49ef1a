package routing

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/model"
)

// Allocation is the exact amount assigned to one recipient.
type Allocation struct {
	RecipientID string          `json:"recipient_id"`
	Amount      decimal.Decimal `json:"amount"`
}

// ComputeAllocations splits total among recipients by percentage, in
// minimal units of 10^-decimals. The sum of the returned amounts always
// equals total. Shares are truncated to whole units and the leftover units
// go, one each, to the recipients with the largest truncated remainder;
// ties go to the recipient listed first. Percentages that sum to slightly
// more or less than 100 are normalized by their actual sum.
func ComputeAllocations(total decimal.Decimal, recipients []model.Recipient, decimals int32) ([]Allocation, error) {
	weights := make([]decimal.Decimal, len(recipients))
	for i, r := range recipients {
		weights[i] = r.Percentage
	}
	amounts, err := Split(total, weights, decimals)
	if err != nil {
		return nil, err
	}
	out := make([]Allocation, len(recipients))
	for i, r := range recipients {
		out[i] = Allocation{RecipientID: r.ID, Amount: amounts[i]}
	}
	return out, nil
}

// Split divides total in proportion to weights using the largest-remainder
// method in minimal units of 10^-decimals.
func Split(total decimal.Decimal, weights []decimal.Decimal, decimals int32) ([]decimal.Decimal, error) {
	if len(weights) == 0 {
		return nil, model.NewValidationError("recipients", "at least one recipient is required")
	}
	if total.IsNegative() {
		return nil, model.NewValidationError("total_deposits", "must not be negative, got %s", total)
	}
	units := total.Shift(decimals)
	if !units.IsInteger() {
		return nil, model.NewValidationError("total_deposits", "%s is finer than the minimal unit 1e-%d", total, decimals)
	}

	// Scale weights to integers so every step below is exact.
	var scale int32
	for i, w := range weights {
		if w.IsNegative() {
			return nil, model.NewValidationError("recipients", "weight %d is negative", i)
		}
		if exp := -w.Exponent(); exp > scale {
			scale = exp
		}
	}
	ints := make([]*big.Int, len(weights))
	sum := new(big.Int)
	for i, w := range weights {
		ints[i] = w.Shift(scale).BigInt()
		sum.Add(sum, ints[i])
	}
	if sum.Sign() == 0 {
		return nil, model.NewValidationError("recipients", "weights sum to zero")
	}

	t := units.BigInt()
	floors := make([]*big.Int, len(weights))
	rems := make([]*big.Int, len(weights))
	assigned := new(big.Int)
	for i, w := range ints {
		num := new(big.Int).Mul(t, w)
		floors[i], rems[i] = new(big.Int).QuoRem(num, sum, new(big.Int))
		assigned.Add(assigned, floors[i])
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rems[order[a]].Cmp(rems[order[b]]) > 0
	})

	residual := new(big.Int).Sub(t, assigned).Int64()
	one := big.NewInt(1)
	for k := int64(0); k < residual; k++ {
		i := order[k%int64(len(order))]
		floors[i].Add(floors[i], one)
	}

	out := make([]decimal.Decimal, len(weights))
	for i, f := range floors {
		out[i] = decimal.NewFromBigInt(f, -decimals)
	}
	return out, nil
}
