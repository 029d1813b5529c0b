package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
)

const codeDateLayout = "02012006"

// CodeGenerator hands out human readable order codes of the form
// {BRAND}{DDMMYYYY}{NNN}. The sequence restarts every local day.
type CodeGenerator struct {
	brand string
	loc   *time.Location
}

// NewCodeGenerator builds a generator for brand whose day boundary follows loc.
func NewCodeGenerator(brand string, loc *time.Location) (*CodeGenerator, error) {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return nil, fmt.Errorf("order code brand required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CodeGenerator{brand: strings.ToUpper(brand), loc: loc}, nil
}

// Prefix returns the code prefix shared by every order created on the local day of now.
func (g *CodeGenerator) Prefix(now time.Time) string {
	return g.brand + now.In(g.loc).Format(codeDateLayout)
}

// Format renders the code for a 1-based sequence number.
func (g *CodeGenerator) Format(now time.Time, seq int) string {
	return fmt.Sprintf("%s%03d", g.Prefix(now), seq)
}

// Next reserves n consecutive codes. It counts the day's orders inside tx, so
// two concurrent checkouts may compute the same code; the unique index on
// orders.code rejects the loser and the caller retries.
func (g *CodeGenerator) Next(ctx context.Context, tx *gorm.DB, now time.Time, n int) ([]string, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required for order codes")
	}
	if n <= 0 {
		return nil, nil
	}
	prefix := g.Prefix(now)

	var count int64
	if err := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("code LIKE ?", prefix+"%").
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("count orders for %s: %w", prefix, err)
	}

	codes := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		codes = append(codes, g.Format(now, int(count)+i))
	}
	return codes, nil
}
