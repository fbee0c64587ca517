package permission

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPolicyGate(t *testing.T) {
	ctx := context.Background()
	admin := uuid.New()
	user := uuid.New()
	wallet := uuid.NewString()

	g := NewPolicyGate(admin)
	assert.True(t, g.IsAuthorized(ctx, admin, "approveWithdrawalRequest", "anything"))
	assert.False(t, g.IsAuthorized(ctx, user, "approveWithdrawalRequest", "anything"))

	g.Grant(user, "createTransfer", wallet)
	assert.True(t, g.IsAuthorized(ctx, user, "createTransfer", wallet))
	assert.False(t, g.IsAuthorized(ctx, user, "createTransfer", uuid.NewString()))
	assert.False(t, g.IsAuthorized(ctx, user, "sendGift", wallet))

	g.Grant(user, "distributeAirdrop", AnyResource)
	assert.True(t, g.IsAuthorized(ctx, user, "distributeAirdrop", uuid.NewString()))

	g.Revoke(user, "createTransfer", wallet)
	assert.False(t, g.IsAuthorized(ctx, user, "createTransfer", wallet))

	assert.False(t, g.IsAdmin(user))
	g.AddAdmin(user)
	assert.True(t, g.IsAdmin(user))
}
