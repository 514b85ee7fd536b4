//go:build integration

package integration

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestPipeline_WelcomeOnSignup(t *testing.T) {
	cfg := LoadCfg()
	MailhogPurge(t, cfg.MailhogAPI)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.ChangeTopic)
	WaitHealthz(t, cfg.TriggersHealth, 60*time.Second)
	WaitHealthz(t, cfg.WorkerHealth, 60*time.Second)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	suffix := RandSuffix()
	username := "alice-" + suffix
	email := fmt.Sprintf("alice-%s@example.com", suffix)
	SeedUser(t, db, username, email, false)

	PublishChange(t, cfg.KafkaBootstrap, cfg.ChangeTopic, "users", "insert",
		map[string]any{"username": username, "email": email})

	WaitNotificationSent(t, db, email, "welcome_high_demand", 40*time.Second)

	rep := WaitMailhogCount(t, cfg.MailhogAPI, 1, 25*time.Second)
	if len(rep.Items) == 0 {
		t.Fatalf("no mail")
	}
	var found bool
	for _, it := range rep.Items {
		if strings.Contains(it.Content.Body, username) {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("welcome mail for %s not found", username)
	}
}

func TestPipeline_DuplicateEventsSendOnce(t *testing.T) {
	cfg := LoadCfg()
	MailhogPurge(t, cfg.MailhogAPI)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.ChangeTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	suffix := RandSuffix()
	username := "bob-" + suffix
	email := fmt.Sprintf("bob-%s@example.com", suffix)
	SeedUser(t, db, username, email, true)

	// The feed is at-least-once: hammer the same change several times.
	for i := 0; i < 5; i++ {
		PublishChange(t, cfg.KafkaBootstrap, cfg.ChangeTopic, "users", "update",
			map[string]any{"username": username, "email": email})
	}

	WaitNotificationSent(t, db, email, "onboarding_finished", 40*time.Second)

	// Let any stray duplicates flush through before counting.
	time.Sleep(3 * time.Second)
	if n := CountNotifications(t, db, email, "onboarding_finished"); n != 1 {
		t.Fatalf("want exactly one record, got %d", n)
	}
}

func TestPipeline_InviteMarkedConsumed(t *testing.T) {
	cfg := LoadCfg()
	MailhogPurge(t, cfg.MailhogAPI)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.ChangeTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	suffix := RandSuffix()
	email := fmt.Sprintf("carol-%s@example.com", suffix)
	token := "tok-" + suffix
	id := SeedInvite(t, db, "gosh-dao", "dave", email, token)

	PublishChange(t, cfg.KafkaBootstrap, cfg.ChangeTopic, "dao_invites", "insert",
		map[string]any{"id": id, "recipient_email": email})

	WaitNotificationSent(t, db, email, "dao_invite", 40*time.Second)

	var consumed bool
	if err := db.QueryRow(`select is_recipient_sent from dao_invites where id = $1`, id).Scan(&consumed); err != nil {
		t.Fatalf("[db] invite flag: %v", err)
	}
	if !consumed {
		t.Fatalf("invite %d not flagged as sent", id)
	}

	rep := WaitMailhogCount(t, cfg.MailhogAPI, 1, 25*time.Second)
	var found bool
	for _, it := range rep.Items {
		if strings.Contains(it.Content.Body, token) {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("invite mail with token %s not found", token)
	}
}
