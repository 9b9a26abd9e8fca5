package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/airwavehq/airwave-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func createUser(t *testing.T, st *SQLiteStore, phone, username string) *store.User {
	t.Helper()

	user, err := st.CreateUser(context.Background(), phone, username, "hash")
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return user
}

func createChannel(t *testing.T, st *SQLiteStore, name, code string, ownerID int64) *store.Channel {
	t.Helper()

	ch, err := st.CreateChannel(context.Background(), name, code, ownerID)
	if err != nil {
		t.Fatalf("CreateChannel(%s): %v", name, err)
	}
	return ch
}

func TestUserCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	user := createUser(t, st, "+15550001", "alice")
	if user.Phone != "+15550001" || user.Username != "alice" {
		t.Fatalf("created user = %+v", user)
	}
	if user.PremiumUntil != nil {
		t.Fatal("new user already has premium")
	}

	byName, err := st.GetUserByUsername(ctx, "alice")
	if err != nil || byName.ID != user.ID {
		t.Fatalf("GetUserByUsername = %+v, %v", byName, err)
	}
	byPhone, err := st.GetUserByPhone(ctx, "+15550001")
	if err != nil || byPhone.ID != user.ID {
		t.Fatalf("GetUserByPhone = %+v, %v", byPhone, err)
	}

	if _, err := st.GetUserByUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing user error = %v, want ErrNotFound", err)
	}

	// Duplicate usernames are rejected by the schema.
	if _, err := st.CreateUser(ctx, "", "alice", "hash2"); err == nil {
		t.Fatal("duplicate username accepted")
	}
}

func TestEnsureUserProvisionsOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.EnsureUser(ctx, "ghost")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	second, err := st.EnsureUser(ctx, "ghost")
	if err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("EnsureUser created a second record: %d != %d", first.ID, second.ID)
	}
}

func TestChannelLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	owner := createUser(t, st, "", "alice")
	ch := createChannel(t, st, "dispatch", "abcd1234", owner.ID)

	byCode, err := st.GetChannelByCode(ctx, "abcd1234")
	if err != nil || byCode.ID != ch.ID {
		t.Fatalf("GetChannelByCode = %+v, %v", byCode, err)
	}

	// The creator is registered as owner and moderator.
	ownerPart, err := st.GetChannelOwner(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetChannelOwner: %v", err)
	}
	if ownerPart.UserID != owner.ID || !ownerPart.IsOwner || !ownerPart.IsModerator {
		t.Fatalf("owner participant = %+v", ownerPart)
	}

	bob := createUser(t, st, "", "bob")
	if err := st.AddParticipant(ctx, bob.ID, ch.ID, false, false); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	// Adding an existing participant is a no-op.
	if err := st.AddParticipant(ctx, bob.ID, ch.ID, true, true); err != nil {
		t.Fatalf("repeat AddParticipant: %v", err)
	}
	part, err := st.GetParticipant(ctx, bob.ID, ch.ID)
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if part.IsOwner || part.IsModerator {
		t.Fatalf("repeat add escalated privileges: %+v", part)
	}

	channels, err := st.ListChannelsForUser(ctx, bob.ID)
	if err != nil || len(channels) != 1 {
		t.Fatalf("ListChannelsForUser = %v, %v", channels, err)
	}

	participants, err := st.ListParticipants(ctx, ch.ID)
	if err != nil || len(participants) != 2 {
		t.Fatalf("ListParticipants = %v, %v", participants, err)
	}

	if err := st.RemoveParticipant(ctx, bob.ID, ch.ID); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if err := st.RemoveParticipant(ctx, bob.ID, ch.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second RemoveParticipant = %v, want ErrNotFound", err)
	}

	if err := st.DeleteChannel(ctx, ch.ID); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if _, err := st.GetChannelByID(ctx, ch.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted channel still readable: %v", err)
	}
	// Membership went with it.
	if _, err := st.GetParticipant(ctx, owner.ID, ch.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("owner participant survived channel delete: %v", err)
	}
}

func TestEnsureMemberProvisionsUserAndMembership(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	owner := createUser(t, st, "", "alice")
	ch := createChannel(t, st, "dispatch", "abcd1234", owner.ID)

	if err := st.EnsureMember(ctx, ch.ID, "walkin"); err != nil {
		t.Fatalf("EnsureMember: %v", err)
	}

	user, err := st.GetUserByUsername(ctx, "walkin")
	if err != nil {
		t.Fatalf("auto-provisioned user missing: %v", err)
	}
	part, err := st.GetParticipant(ctx, user.ID, ch.ID)
	if err != nil {
		t.Fatalf("auto-provisioned membership missing: %v", err)
	}
	if part.IsOwner || part.IsModerator {
		t.Fatalf("walk-in got privileges: %+v", part)
	}

	// Re-entry is idempotent.
	if err := st.EnsureMember(ctx, ch.ID, "walkin"); err != nil {
		t.Fatalf("repeat EnsureMember: %v", err)
	}

	// An unknown channel refuses.
	if err := st.EnsureMember(ctx, 9999, "walkin"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("EnsureMember on missing channel = %v, want ErrNotFound", err)
	}
}

func TestAutoRecordEnabledFollowsOwnerPremium(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	owner := createUser(t, st, "+15550001", "alice")
	ch := createChannel(t, st, "dispatch", "abcd1234", owner.ID)

	enabled, err := st.AutoRecordEnabled(ctx, ch.ID, time.Now())
	if err != nil {
		t.Fatalf("AutoRecordEnabled: %v", err)
	}
	if enabled {
		t.Fatal("auto-record enabled without premium")
	}

	if err := st.SetPremiumUntil(ctx, owner.ID, time.Now().AddDate(0, 1, 0)); err != nil {
		t.Fatalf("SetPremiumUntil: %v", err)
	}
	enabled, err = st.AutoRecordEnabled(ctx, ch.ID, time.Now())
	if err != nil || !enabled {
		t.Fatalf("AutoRecordEnabled after grant = %v, %v", enabled, err)
	}

	// Premium covering earlier today still counts for today.
	y, m, d := time.Now().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	if err := st.SetPremiumUntil(ctx, owner.ID, today); err != nil {
		t.Fatalf("SetPremiumUntil: %v", err)
	}
	enabled, err = st.AutoRecordEnabled(ctx, ch.ID, time.Now())
	if err != nil || !enabled {
		t.Fatalf("AutoRecordEnabled on expiry day = %v, %v", enabled, err)
	}

	// Expired yesterday means disabled today.
	if err := st.SetPremiumUntil(ctx, owner.ID, today.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("SetPremiumUntil: %v", err)
	}
	enabled, err = st.AutoRecordEnabled(ctx, ch.ID, time.Now())
	if err != nil || enabled {
		t.Fatalf("AutoRecordEnabled after expiry = %v, %v", enabled, err)
	}
}

func TestChatMessagesPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice := createUser(t, st, "", "alice")
	ch := createChannel(t, st, "dispatch", "abcd1234", alice.ID)

	for _, body := range []string{"one", "two", "three"} {
		msg := &store.ChatMessage{ChannelID: ch.ID, UserID: alice.ID, Body: body}
		if err := st.SaveChatMessage(ctx, msg); err != nil {
			t.Fatalf("SaveChatMessage(%s): %v", body, err)
		}
		if msg.ID == 0 {
			t.Fatal("SaveChatMessage did not backfill the id")
		}
	}

	all, err := st.ListChatMessages(ctx, ch.ID, 10, nil)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(all) != 3 || all[0].Body != "one" || all[2].Body != "three" {
		t.Fatalf("messages out of order: %+v", all)
	}
	if all[0].Username != "alice" {
		t.Fatalf("message username = %q, want alice", all[0].Username)
	}

	older, err := st.ListChatMessages(ctx, ch.ID, 10, &all[2].ID)
	if err != nil {
		t.Fatalf("ListChatMessages before id: %v", err)
	}
	if len(older) != 2 || older[1].Body != "two" {
		t.Fatalf("paginated messages = %+v", older)
	}

	if err := st.DeleteAllChatMessages(ctx); err != nil {
		t.Fatalf("DeleteAllChatMessages: %v", err)
	}
	empty, err := st.ListChatMessages(ctx, ch.ID, 10, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("messages survived purge: %v, %v", empty, err)
	}
}

func TestTicketGrantFlow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	user := createUser(t, st, "+15550002", "bob")

	ticket, err := st.CreateTicket(ctx, &store.Ticket{
		UserID:   user.ID,
		Username: user.Username,
		Phone:    user.Phone,
		ImageURL: "https://example.com/receipt.png",
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ticket.ID == 0 {
		t.Fatal("CreateTicket did not assign an id")
	}

	byPhone, err := st.GetTicketByPhone(ctx, "+15550002")
	if err != nil || byPhone.ID != ticket.ID {
		t.Fatalf("GetTicketByPhone = %+v, %v", byPhone, err)
	}

	mine, err := st.ListTicketsForUser(ctx, user.ID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListTicketsForUser = %v, %v", mine, err)
	}

	until := time.Now().AddDate(0, 1, 0)
	if err := st.SetPremiumUntil(ctx, user.ID, until); err != nil {
		t.Fatalf("SetPremiumUntil: %v", err)
	}
	if err := st.DeleteTicket(ctx, ticket.ID); err != nil {
		t.Fatalf("DeleteTicket: %v", err)
	}

	updated, err := st.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if updated.PremiumUntil == nil {
		t.Fatal("premium not recorded")
	}

	if _, err := st.GetTicketByPhone(ctx, "+15550002"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("granted ticket still listed: %v", err)
	}
	if err := st.DeleteTicket(ctx, ticket.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second DeleteTicket = %v, want ErrNotFound", err)
	}
}
