package member

import (
	"credit-engine/internal/pkg/apperrors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newMember(savings, frozen string) *Member {
	return &Member{
		ID:            uuid.New(),
		Stage:         StageThree,
		State:         StateActive,
		Savings:       decimal.RequireFromString(savings),
		FrozenSavings: decimal.RequireFromString(frozen),
	}
}

func TestMember_Freeze(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := newMember("2000", "500")
		assert.NoError(t, m.Freeze(decimal.NewFromInt(500)))
		assert.True(t, m.FrozenSavings.Equal(decimal.NewFromInt(1000)))
		assert.True(t, m.Available().Equal(decimal.NewFromInt(1000)))
	})

	t.Run("Insufficient available savings", func(t *testing.T) {
		m := newMember("900", "500")
		err := m.Freeze(decimal.NewFromInt(500))
		assert.ErrorIs(t, err, apperrors.ErrBusinessRule)
		assert.Equal(t, apperrors.CodeInsufficientAvailableSavings, apperrors.CodeOf(err))
		assert.True(t, m.FrozenSavings.Equal(decimal.NewFromInt(500)))
	})
}

func TestMember_UnfreezeAndConsume(t *testing.T) {
	m := newMember("2000", "1000")

	assert.NoError(t, m.Unfreeze(decimal.NewFromInt(400)))
	assert.True(t, m.FrozenSavings.Equal(decimal.NewFromInt(600)))

	assert.Error(t, m.Unfreeze(decimal.NewFromInt(700)))

	assert.NoError(t, m.ConsumeFrozen(decimal.NewFromInt(500), decimal.NewFromInt(300)))
	assert.True(t, m.FrozenSavings.Equal(decimal.NewFromInt(100)))
	assert.True(t, m.Savings.Equal(decimal.NewFromInt(1700)))

	assert.Error(t, m.ConsumeFrozen(decimal.NewFromInt(100), decimal.NewFromInt(200)))
}

func TestMember_Counters(t *testing.T) {
	m := newMember("0", "0")
	m.RemoveGuaranteedCredit()
	m.RemoveActiveCredit()
	assert.Zero(t, m.GuaranteedCredits)
	assert.Zero(t, m.ActiveCredits)

	m.AddGuaranteedCredit()
	m.AddActiveCredit()
	assert.Equal(t, 1, m.GuaranteedCredits)
	assert.Equal(t, 1, m.ActiveCredits)
}

func TestMember_SuspendReinstate(t *testing.T) {
	m := newMember("0", "0")
	m.Suspend()
	assert.Equal(t, StateSuspended, m.State)
	assert.False(t, m.IsActive())
	m.Reinstate()
	assert.True(t, m.IsActive())

	m.State = StateExpelled
	m.Suspend()
	m.Reinstate()
	assert.Equal(t, StateExpelled, m.State)
}
