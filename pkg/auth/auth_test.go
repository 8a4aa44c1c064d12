package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVerifier(t *testing.T) {
	v := &StaticVerifier{Tokens: map[string]User{
		"tok-1": {UserID: "user-1", Phone: "+628111"},
	}}

	user := v.Verify("tok-1")
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.UserID)

	assert.Nil(t, v.Verify("wrong"))
	assert.Nil(t, v.Verify(""))
}

func TestAllowAllLimiter(t *testing.T) {
	decision := AllowAllLimiter{}.Check("anyone", "builtin", false)
	assert.True(t, decision.Allowed)
}

func TestFixedQuotaChecker(t *testing.T) {
	q := &FixedQuotaChecker{TotalPerUser: 2}

	first := q.Check("user-1")
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Used)

	second := q.Check("user-1")
	assert.True(t, second.Allowed)
	assert.Equal(t, 2, second.Used)

	third := q.Check("user-1")
	assert.False(t, third.Allowed)
	assert.Equal(t, 2, third.Used)

	// Quotas are counted per user
	assert.True(t, q.Check("user-2").Allowed)
}

func TestFixedQuotaChecker_Unlimited(t *testing.T) {
	q := &FixedQuotaChecker{}
	for i := 0; i < 10; i++ {
		assert.True(t, q.Check("user-1").Allowed)
	}
}
