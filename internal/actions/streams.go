package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/goshlabs/onboarding-pipeline/internal/dispatch"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/invite"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/job"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/user"
	"github.com/goshlabs/onboarding-pipeline/internal/templates"
)

// Stream ids. One logical event stream per intent; the change-event
// controller fans one table change out to every stream fed by that table.
const (
	StreamWelcomeHighDemand  = "welcome_high_demand"
	StreamOnboardingFinished = "onboarding_finished"
	StreamOnboardingRename   = "onboarding_rename"
	StreamDaoInvites         = "dao_invites"
)

// TableStreams maps a changed table to the streams it feeds.
var TableStreams = map[string][]string{
	"users":       {StreamWelcomeHighDemand, StreamOnboardingFinished, StreamOnboardingRename},
	"dao_invites": {StreamDaoInvites},
}

type Deps struct {
	Log     *zap.Logger
	Records notification.Repo
	Jobs    job.Repo
	Users   user.Repo
	Invites invite.Repo
	Tmpl    *templates.Set
	Tx      Transactor

	Queue   string
	Retries int
	Backoff job.Backoff
}

// Streams wires the four intents to their enumerators and actions.
func Streams(d Deps) []dispatch.Stream {
	return []dispatch.Stream{
		{
			ID:        StreamWelcomeHighDemand,
			Enumerate: enumerateUnnotified(d.Users, notification.IntentWelcomeHighDemand),
			Action:    d.action(notification.IntentWelcomeHighDemand, nil),
		},
		{
			ID:        StreamOnboardingFinished,
			Enumerate: enumerateOnboardedUnnotified(d.Users, notification.IntentOnboardingFinished),
			Action:    d.action(notification.IntentOnboardingFinished, nil),
		},
		{
			ID:        StreamOnboardingRename,
			Enumerate: enumerateRenamed(d.Users),
			Action: d.action(notification.IntentOnboardingRename,
				func(ctx context.Context, e dispatch.Entity) error {
					return d.Users.ClearRename(ctx, e.Ref)
				}),
		},
		{
			ID:        StreamDaoInvites,
			Enumerate: enumeratePendingInvites(d.Invites),
			Action: d.action(notification.IntentDaoInvite,
				func(ctx context.Context, e dispatch.Entity) error {
					return d.Invites.MarkRecipientSent(ctx, e.Ref)
				}),
		},
	}
}

func (d Deps) action(intent notification.Intent, after func(context.Context, dispatch.Entity) error) *Action {
	return &Action{
		Intent:  intent,
		Records: d.Records,
		Jobs:    d.Jobs,
		Tmpl:    d.Tmpl,
		Log:     d.Log.With(zap.String("intent", string(intent))),
		Tx:      d.Tx,
		Queue:   d.Queue,
		Retries: d.Retries,
		Backoff: d.Backoff,
		After:   after,
	}
}

func enumerateUnnotified(users user.Repo, intent notification.Intent) func(context.Context, int) ([]dispatch.Entity, error) {
	return func(ctx context.Context, limit int) ([]dispatch.Entity, error) {
		list, err := users.ListUnnotified(ctx, intent, limit)
		if err != nil {
			return nil, err
		}
		out := make([]dispatch.Entity, 0, len(list))
		for _, u := range list {
			out = append(out, userEntity(u))
		}
		return out, nil
	}
}

func enumerateOnboardedUnnotified(users user.Repo, intent notification.Intent) func(context.Context, int) ([]dispatch.Entity, error) {
	return func(ctx context.Context, limit int) ([]dispatch.Entity, error) {
		list, err := users.ListOnboardedUnnotified(ctx, intent, limit)
		if err != nil {
			return nil, err
		}
		out := make([]dispatch.Entity, 0, len(list))
		for _, u := range list {
			out = append(out, userEntity(u))
		}
		return out, nil
	}
}

func enumerateRenamed(users user.Repo) func(context.Context, int) ([]dispatch.Entity, error) {
	return func(ctx context.Context, limit int) ([]dispatch.Entity, error) {
		list, err := users.ListRenamed(ctx, limit)
		if err != nil {
			return nil, err
		}
		out := make([]dispatch.Entity, 0, len(list))
		for _, u := range list {
			e := userEntity(u)
			if u.RenamedFrom != nil {
				e.Vars["old_username"] = *u.RenamedFrom
			}
			out = append(out, e)
		}
		return out, nil
	}
}

func enumeratePendingInvites(invites invite.Repo) func(context.Context, int) ([]dispatch.Entity, error) {
	return func(ctx context.Context, limit int) ([]dispatch.Entity, error) {
		list, err := invites.ListPending(ctx, limit)
		if err != nil {
			return nil, err
		}
		out := make([]dispatch.Entity, 0, len(list))
		for _, iv := range list {
			out = append(out, dispatch.Entity{
				Key:       fmt.Sprintf("invite:%d", iv.ID),
				Ref:       iv.ID,
				Recipient: iv.RecipientEmail,
				Vars: map[string]string{
					"dao":    iv.DaoName,
					"sender": iv.SenderUsername,
					"token":  iv.Token,
				},
			})
		}
		return out, nil
	}
}

func userEntity(u *user.User) dispatch.Entity {
	return dispatch.Entity{
		Key:       fmt.Sprintf("user:%d", u.ID),
		Ref:       u.ID,
		Recipient: u.Email,
		Vars: map[string]string{
			"username": u.Username,
		},
	}
}
