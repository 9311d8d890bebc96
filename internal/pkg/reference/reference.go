// Package reference builds and allocates human-readable daily references of
// the form PREFIX-YYYYMMDD-NNNNN.
package reference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	dayLayout  = "20060102"
	maxCounter = 99999
)

var (
	ErrMalformed         = errors.New("malformed reference")
	ErrSequenceExhausted = errors.New("daily reference sequence exhausted")
)

// Allocator hands out the next reference for prefix on day. Implementations
// may read through tx so the caller's transaction sees its own inserts.
type Allocator interface {
	Next(ctx context.Context, tx *gorm.DB, prefix string, day time.Time) (string, error)
}

func Format(prefix string, day time.Time, counter int) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, day.UTC().Format(dayLayout), counter)
}

// Parse splits a reference into its prefix, day and counter.
func Parse(ref string) (prefix string, day time.Time, counter int, err error) {
	parts := strings.Split(ref, "-")
	if len(parts) != 3 || parts[0] == "" || len(parts[2]) != 5 {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformed, ref)
	}
	day, err = time.ParseInLocation(dayLayout, parts[1], time.UTC)
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformed, ref)
	}
	counter, err = strconv.Atoi(parts[2])
	if err != nil || counter < 1 {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformed, ref)
	}
	return parts[0], day, counter, nil
}

func dayPrefix(prefix string, day time.Time) string {
	return prefix + "-" + day.UTC().Format(dayLayout) + "-"
}

// TableAllocator derives the next counter from the highest reference already
// stored in table.column. Two concurrent callers can compute the same value;
// the unique index on column rejects the loser and the transaction runner
// retries it.
type TableAllocator struct {
	table  string
	column string
}

func NewTableAllocator(table, column string) *TableAllocator {
	return &TableAllocator{table: table, column: column}
}

func (a *TableAllocator) Next(ctx context.Context, tx *gorm.DB, prefix string, day time.Time) (string, error) {
	current, err := a.Max(ctx, tx, prefix, day)
	if err != nil {
		return "", err
	}
	if current >= maxCounter {
		return "", ErrSequenceExhausted
	}
	return Format(prefix, day, current+1), nil
}

// Max returns the highest counter used for prefix on day, or 0.
func (a *TableAllocator) Max(ctx context.Context, tx *gorm.DB, prefix string, day time.Time) (int, error) {
	var refs []string
	err := tx.WithContext(ctx).
		Table(a.table).
		Where(a.column+" LIKE ?", dayPrefix(prefix, day)+"%").
		Order(a.column + " DESC").
		Limit(1).
		Pluck(a.column, &refs).Error
	if err != nil {
		return 0, fmt.Errorf("read max %s.%s: %w", a.table, a.column, err)
	}
	if len(refs) == 0 {
		return 0, nil
	}
	_, _, counter, err := Parse(refs[0])
	if err != nil {
		return 0, err
	}
	return counter, nil
}
