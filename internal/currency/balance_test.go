package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/common"
)

func TestTotalWL(t *testing.T) {
	assert.Equal(t, int64(1_050_503), Balance{WL: 3, DL: 5, BGL: 105}.TotalWL())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   Balance
		want string
	}{
		{Balance{}, "0 WL"},
		{Balance{WL: 3}, "3 WL"},
		{Balance{DL: 5}, "5 DL"},
		{Balance{WL: 3, DL: 5, BGL: 1000}, "1,000 BGL, 5 DL, 3 WL"},
		{Balance{WL: 12000}, "12,000 WL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Format())
	}
}

func TestParseRoundTrip(t *testing.T) {
	cases := []Balance{
		{},
		{WL: 1},
		{WL: 99, DL: 99, BGL: 99},
		{WL: 0, DL: 0, BGL: 123456},
		{WL: 1234567, DL: 1, BGL: 0},
		{WL: 5, DL: 0, BGL: 7},
	}
	for _, b := range cases {
		got, err := Parse(b.Format())
		require.NoError(t, err, b.Format())
		assert.True(t, b.Equal(got), "%s → %+v", b.Format(), got)
		assert.Equal(t, b, got)
	}
}

func TestParseTolerance(t *testing.T) {
	b, err := Parse("2 bgl,  10 DL , 1,500 wl")
	require.NoError(t, err)
	assert.Equal(t, Balance{WL: 1500, DL: 10, BGL: 2}, b)

	b, err = Parse("")
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	_, err = Parse("много денег")
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestFromWL(t *testing.T) {
	assert.Equal(t, Balance{WL: 45, DL: 23, BGL: 1}, FromWL(12345))
	assert.Equal(t, Balance{}, FromWL(-10))
	assert.Equal(t, "-1 BGL, 23 DL, 45 WL", FormatWL(-12345))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Balance{WL: 10}.Validate(0))
	assert.Error(t, Balance{WL: -1}.Validate(0))
	assert.NoError(t, Balance{BGL: 100}.Validate(1_000_000))
	assert.Error(t, Balance{BGL: 100, WL: 1}.Validate(1_000_000))
}

func TestCodes(t *testing.T) {
	c, err := ParseCode(" dl ")
	require.NoError(t, err)
	assert.Equal(t, DL, c)
	assert.Equal(t, int64(300), ToWL(3, c))
	assert.Equal(t, Balance{BGL: 2}, Of(2, BGL))

	_, err = ParseCode("USD")
	assert.Error(t, err)
}

func TestDebitDelta(t *testing.T) {
	tests := []struct {
		name   string
		cur    Balance
		amount int64
		want   Balance
	}{
		{"только WL", Balance{WL: 2000}, 1000, Balance{WL: -1000}},
		{"размен DL", Balance{DL: 5}, 150, Balance{DL: -2, WL: 50}},
		{"размен BGL", Balance{BGL: 1}, 1, Balance{BGL: -1, DL: 99, WL: 99}},
		{"весь баланс", Balance{WL: 3, DL: 2, BGL: 1}, 10203, Balance{WL: -3, DL: -2, BGL: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DebitDelta(tt.cur, tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, -tt.amount, got.TotalWL())

			next := tt.cur.Add(got)
			assert.GreaterOrEqual(t, next.WL, int64(0))
			assert.GreaterOrEqual(t, next.DL, int64(0))
			assert.GreaterOrEqual(t, next.BGL, int64(0))
		})
	}

	_, err := DebitDelta(Balance{WL: 10}, 11)
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	_, err = DebitDelta(Balance{WL: 10}, 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestCheckAdminAmount(t *testing.T) {
	assert.NoError(t, CheckAdminAmount(10000, WL))
	assert.NoError(t, CheckAdminAmount(10, BGL))
	assert.Equal(t, common.KindValidation, common.KindOf(CheckAdminAmount(11, BGL)))
	assert.Equal(t, common.KindValidation, common.KindOf(CheckAdminAmount(0, DL)))
}
