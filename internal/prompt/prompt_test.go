package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otms-autofill/otms-autofill/internal/sheet"
)

// scripted answers prompts from fixed values and records what was asked.
type scripted struct {
	choice  int
	confirm bool
	err     error
	asked   []string
	options []string
}

func (s *scripted) Select(_ context.Context, cfg SelectConfig) (int, error) {
	s.asked = append(s.asked, cfg.Message)
	s.options = cfg.Options
	return s.choice, s.err
}

func (s *scripted) Confirm(_ context.Context, cfg ConfirmConfig) (bool, error) {
	s.asked = append(s.asked, cfg.Message)
	return s.confirm, s.err
}

func table(t *testing.T) *sheet.Table {
	t.Helper()
	tbl, err := sheet.Read(strings.NewReader("Sr.No,Name in IC/Passport\n1,John Smith\n2,\n3.0,Lee Wei\n"), ".csv", "")
	require.NoError(t, err)
	return tbl
}

func TestPickRow(t *testing.T) {
	d := &scripted{choice: 2}
	key, err := PickRow(context.Background(), d, table(t), "sr.no")
	require.NoError(t, err)
	assert.Equal(t, "3", key)
	assert.Equal(t, []string{"1 · John Smith", "2", "3 · Lee Wei"}, d.options)
	assert.Equal(t, []string{"Row to fill (sr.no):"}, d.asked)
}

func TestPickRowErrors(t *testing.T) {
	_, err := PickRow(context.Background(), &scripted{}, table(t), "id")
	assert.ErrorIs(t, err, sheet.ErrKeyColumnMissing)

	_, err = PickRow(context.Background(), &scripted{err: ErrAborted}, table(t), "sr.no")
	assert.ErrorIs(t, err, ErrAborted)

	_, err = PickRow(context.Background(), &scripted{choice: 9}, table(t), "sr.no")
	assert.ErrorContains(t, err, "invalid selection")

	empty, err := sheet.Read(strings.NewReader("Sr.No,Name\n,John\n"), ".csv", "")
	require.NoError(t, err)
	_, err = PickRow(context.Background(), &scripted{}, empty, "sr.no")
	assert.ErrorContains(t, err, "no rows")
}

func TestNextRowGate(t *testing.T) {
	d := &scripted{confirm: true}
	ok, err := NextRowGate(d)(context.Background(), "13")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, d.asked, 1)
	assert.Contains(t, d.asked[0], "row 13")

	boom := errors.New("stdin closed")
	_, err = NextRowGate(&scripted{err: boom})(context.Background(), "14")
	assert.ErrorIs(t, err, boom)
}

func TestSurveyHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Survey{}.Select(ctx, SelectConfig{Message: "x", Options: []string{"a"}})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = Survey{}.Confirm(ctx, ConfirmConfig{Message: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate(terminal.InterruptErr), ErrAborted)
	other := errors.New("eof")
	assert.Equal(t, other, translate(other))
}
