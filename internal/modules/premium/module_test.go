package premium

import (
	"context"
	"net/http"
	"testing"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/expiry"
	"guildkeeper/internal/scheduler/schedulertest"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlatform struct {
	added   []string
	removed []string
	sent    map[string][]string
	addErr  error
}

func (f *fakePlatform) AddRole(guildID, userID, roleID, reason string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, userID)
	return nil
}

func (f *fakePlatform) RemoveRole(guildID, userID, roleID, reason string) error {
	f.removed = append(f.removed, userID)
	return nil
}

func (f *fakePlatform) Send(channelID, content string) error {
	f.sent[channelID] = append(f.sent[channelID], content)
	return nil
}

// 175928847299117063 was created on 2016-04-30.
const oldAccount = "175928847299117063"

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func snowflakeAt(t time.Time) string {
	return snowflake.New(t).String()
}

func newTestModule() (*Module, *fakePlatform, *expiry.Ledger) {
	platform := &fakePlatform{sent: make(map[string][]string)}
	ledger := expiry.NewLedger(schedulertest.NewStore(), zap.NewNop())
	cfg := config.PremiumConfig{
		SupportGuildID: "support",
		RoleID:         "premium-role",
		AuthorizedIDs:  []string{"admin"},
		AccountAgeDays: 7,
	}
	module := New(cfg, ledger, platform, nil, zap.NewNop())
	module.now = func() time.Time { return t0 }
	return module, platform, ledger
}

func TestGrantRequiresAuthorization(t *testing.T) {
	module, platform, _ := newTestModule()
	ctx := context.Background()

	_, err := module.Grant(ctx, "someone", oldAccount, expiry.TypeDay)
	assert.ErrorIs(t, err, ErrUnauthorized)

	grant, err := module.Grant(ctx, "admin", oldAccount, expiry.TypeMonth)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-31T12:00:00Z", grant.Expires)
	assert.Equal(t, []string{oldAccount}, platform.added)

	_, active, err := module.Status(ctx, oldAccount)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestGrantSurvivesRoleFailure(t *testing.T) {
	module, platform, _ := newTestModule()
	platform.addErr = &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}

	_, err := module.Grant(context.Background(), "admin", oldAccount, expiry.TypeLifetime)
	require.NoError(t, err)
	grant, active, err := module.Status(context.Background(), oldAccount)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, expiry.Never, grant.Expires)
}

func TestRevokeAndExpiredRemoveRole(t *testing.T) {
	module, platform, _ := newTestModule()
	ctx := context.Background()

	_, err := module.Grant(ctx, "admin", "u1", expiry.TypeDay)
	require.NoError(t, err)
	removed, err := module.Revoke(ctx, "admin", "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = module.Revoke(ctx, "admin", "u1")
	require.NoError(t, err)
	assert.False(t, removed)

	module.HandleExpired(ctx, []string{"u2", "u3"})
	assert.Equal(t, []string{"u1", "u2", "u3"}, platform.removed)
}

func TestHandleJoinRestoresRoleAndAlerts(t *testing.T) {
	module, platform, ledger := newTestModule()
	ctx := context.Background()
	require.NoError(t, ledger.SetAlertChannel(ctx, "alerts"))
	_, err := ledger.Grant(ctx, oldAccount, expiry.TypeYear, t0)
	require.NoError(t, err)

	module.HandleJoin(ctx, "other", &discordgo.Member{User: &discordgo.User{ID: oldAccount}})
	assert.Empty(t, platform.added)

	module.HandleJoin(ctx, "support", &discordgo.Member{User: &discordgo.User{ID: oldAccount}})
	assert.Equal(t, []string{oldAccount}, platform.added)
	assert.Empty(t, platform.sent["alerts"])

	// An id minted two days before t0.
	fresh := snowflakeAt(t0.Add(-48 * time.Hour))
	module.HandleJoin(ctx, "support", &discordgo.Member{User: &discordgo.User{ID: fresh}})
	require.Len(t, platform.sent["alerts"], 1)
	assert.Contains(t, platform.sent["alerts"][0], "2 day(s)")
}
