package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-ledger/billing"
)

func TestGate_DefaultRoles(t *testing.T) {
	g := NewGate()
	tenant := Principal{UserID: "t1", Role: RoleTenant}
	staff := Principal{UserID: "s1", Role: RoleStaff}
	admin := Principal{UserID: "a1", Role: RoleAdmin}

	assert.True(t, g.Allows(tenant, CapPaymentSubmit))
	assert.False(t, g.Allows(tenant, CapPaymentDecide))
	assert.False(t, g.Allows(tenant, CapPaymentRecord))

	assert.True(t, g.Allows(staff, CapPaymentDecide))
	assert.True(t, g.Allows(staff, CapPaymentSubmit), "staff inherits tenant capabilities")
	assert.False(t, g.Allows(staff, CapInvoiceCleanup))

	assert.True(t, g.Allows(admin, CapInvoiceCleanup))
	assert.True(t, g.Allows(admin, CapPaymentDecide))

	assert.False(t, g.Allows(Principal{Role: "guest"}, CapInvoiceRead))
}

func TestGate_Check(t *testing.T) {
	g := NewGate()
	err := g.Check(Principal{UserID: "t1", Role: RoleTenant}, CapPaymentDecide)
	require.Error(t, err)
	assert.True(t, billing.IsForbidden(err))

	var authErr *billing.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "t1", authErr.ActorID)

	assert.NoError(t, g.Check(Principal{UserID: "s1", Role: RoleStaff}, CapPaymentDecide))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "u1", Role: RoleStaff})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", p.UserID)
	assert.True(t, p.IsStaff())
}

func TestJWT_RoundTrip(t *testing.T) {
	j := NewJWT("secret", "rentledger", time.Hour)
	token, expires, err := j.Issue(Principal{UserID: "tenant-1", Role: RoleTenant})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	p, err := j.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "tenant-1", Role: RoleTenant}, p)
}

func TestJWT_Rejects(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	j := NewJWT("secret", "rentledger", time.Hour).WithClock(func() time.Time { return now })
	token, _, err := j.Issue(Principal{UserID: "u1", Role: RoleStaff})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := NewJWT("secret", "rentledger", time.Hour).
			WithClock(func() time.Time { return now.Add(2 * time.Hour) })
		_, err := later.Parse(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWT("other", "rentledger", time.Hour).WithClock(func() time.Time { return now })
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWT("secret", "someone-else", time.Hour).WithClock(func() time.Time { return now })
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "rentledger"},
			Role:             RoleAdmin,
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = j.Parse(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := j.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("bad role on issue", func(t *testing.T) {
		_, _, err := j.Issue(Principal{UserID: "u1", Role: "root"})
		assert.ErrorIs(t, err, ErrInvalidRole)
	})
}
