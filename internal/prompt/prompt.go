// Package prompt asks the operator questions on a plain terminal: which row
// to fill and whether to move on to the next one.
package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/otms-autofill/otms-autofill/internal/mapping"
	"github.com/otms-autofill/otms-autofill/internal/session"
	"github.com/otms-autofill/otms-autofill/internal/sheet"
)

// ErrAborted is returned when the operator interrupts a prompt.
var ErrAborted = errors.New("prompt aborted")

// SelectConfig configures a single choice prompt.
type SelectConfig struct {
	Message  string
	Options  []string
	PageSize int
}

// ConfirmConfig configures a yes/no prompt.
type ConfirmConfig struct {
	Message string
	Default bool
}

// Driver abstracts the terminal so callers can be tested without one.
type Driver interface {
	Select(ctx context.Context, cfg SelectConfig) (int, error)
	Confirm(ctx context.Context, cfg ConfirmConfig) (bool, error)
}

// Survey is the Driver backed by survey/v2.
type Survey struct{}

func (Survey) Select(ctx context.Context, cfg SelectConfig) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	var out int
	p := &survey.Select{
		Message: cfg.Message,
		Options: cfg.Options,
	}
	if cfg.PageSize > 0 {
		p.PageSize = cfg.PageSize
	}
	if err := survey.AskOne(p, &out); err != nil {
		return -1, translate(err)
	}
	return out, nil
}

func (Survey) Confirm(ctx context.Context, cfg ConfirmConfig) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var out bool
	p := &survey.Confirm{
		Message: cfg.Message,
		Default: cfg.Default,
	}
	if err := survey.AskOne(p, &out); err != nil {
		return false, translate(err)
	}
	return out, nil
}

func translate(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrAborted
	}
	return err
}

// RowLabel renders a row as "12 · John Smith" for pickers and status lines.
func RowLabel(key string, rec sheet.Record) string {
	if name, ok := rec.First(mapping.PersonNameColumns...); ok {
		return fmt.Sprintf("%s · %s", key, name)
	}
	return key
}

// PickRow asks which row to fill and returns its key.
func PickRow(ctx context.Context, d Driver, table *sheet.Table, keyColumn string) (string, error) {
	keys, err := table.Keys(keyColumn)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("no rows with a %s value", keyColumn)
	}

	labels := make([]string, len(keys))
	for i, k := range keys {
		labels[i] = k
		if rec, err := table.Find(keyColumn, k); err == nil {
			labels[i] = RowLabel(k, rec)
		}
	}

	idx, err := d.Select(ctx, SelectConfig{
		Message:  "Row to fill (" + keyColumn + "):",
		Options:  labels,
		PageSize: 15,
	})
	if err != nil {
		return "", err
	}
	if idx < 0 || idx >= len(keys) {
		return "", fmt.Errorf("invalid selection %d", idx)
	}
	return keys[idx], nil
}

// NextRowGate confirms every row after the first so the operator can review
// and submit the current form before it is replaced.
func NextRowGate(d Driver) session.Gate {
	return func(ctx context.Context, next string) (bool, error) {
		return d.Confirm(ctx, ConfirmConfig{
			Message: fmt.Sprintf("Submit the current form on the site, then continue with row %s?", next),
			Default: true,
		})
	}
}
