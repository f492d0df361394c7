package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"muse/cmd/internal/access"
	"muse/cmd/internal/dialog"
	"muse/cmd/internal/metrics"
)

// Transport-facing command strings. Parsing lives here; the core packages
// only see their own operations.
const (
	cmdStart   = "/start"
	cmdInvite  = "/invite"
	cmdLinks   = "/links"
	cmdPromote = "/promote"
	cmdDemote  = "/demote"
	cmdDuet    = "/duet"
	cmdHelp    = "/help"
)

const (
	msgUsageStart     = "Use /start <invitation-token> to activate your access."
	msgWelcome        = "Welcome! Your access is active for the next %d days."
	msgLinkInvalid    = "That invitation link is invalid or already used."
	msgAlreadyClaimed = "You have already redeemed an invitation link."
	msgUnauthorized   = "You are not authorized to do that."
	msgNoLinks        = "No unused invitation links."
	msgInternal       = "Sorry, something went wrong while handling your request."
	msgLastAdmin      = "Refusing to remove the last admin."

	msgHelp = "Commands:\n" +
		"/start <token> - redeem an invitation link\n" +
		"/speak - guided speech synthesis\n" +
		"/speak+ - guided speech synthesis with a tone step\n" +
		"/duet <topic> - staged dialogue on a topic\n" +
		"/cancel - cancel the current guided flow\n" +
		"Admins: /invite, /links, /promote <id>, /demote <id>"
)

// commandRouter maps parsed slash commands onto core operations.
// Admin commands verify the caller against the admin set before invoking
// the access controller.
type commandRouter struct {
	log    *slog.Logger
	access *access.Service
	orch   *dialog.Orchestrator
}

// parseCommand splits a leading slash command from its argument.
func parseCommand(text string) (name, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(text, " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

// handle runs a built-in command. handled=false means the command belongs
// to the orchestrator (guided-flow triggers, cancel) and must be routed on.
func (r *commandRouter) handle(ctx context.Context, userID int64, name, arg string) ([]dialog.Reply, bool) {
	switch name {
	case cmdStart:
		return r.start(ctx, userID, arg), true
	case cmdInvite:
		return r.invite(ctx, userID), true
	case cmdLinks:
		return r.links(ctx, userID), true
	case cmdPromote:
		return r.adminChange(ctx, userID, arg, true), true
	case cmdDemote:
		return r.adminChange(ctx, userID, arg, false), true
	case cmdDuet:
		replies, err := r.orch.HandleDuet(ctx, userID, arg)
		if err != nil {
			r.log.Error("transport.command.fail", "cmd", name, "user_id", userID, "err", err)
			return text(msgInternal), true
		}
		return replies, true
	case cmdHelp:
		return text(msgHelp), true
	default:
		// Guided-flow triggers and /cancel route through the orchestrator.
		return nil, false
	}
}

func (r *commandRouter) start(ctx context.Context, userID int64, token string) []dialog.Reply {
	if token == "" {
		return text(msgUsageStart)
	}

	now := time.Now().UTC()
	_, err := r.access.RedeemLink(ctx, userID, token, now)
	switch {
	case err == nil:
		metrics.LinksRedeemedTotal.Inc()
		grant, gerr := r.access.CheckAccess(ctx, userID, now)
		if gerr != nil {
			r.log.Error("transport.redeem.check_fail", "user_id", userID, "err", gerr)
			return text(fmt.Sprintf(msgWelcome, 30))
		}
		return text(fmt.Sprintf(msgWelcome, grant.DaysRemaining))
	case errors.Is(err, access.ErrAlreadyClaimed):
		return text(msgAlreadyClaimed)
	case errors.Is(err, access.ErrInvalidOrUsedLink):
		return text(msgLinkInvalid)
	default:
		r.log.Error("transport.redeem.fail", "user_id", userID, "err", err)
		return text(msgInternal)
	}
}

func (r *commandRouter) invite(ctx context.Context, userID int64) []dialog.Reply {
	if replies, ok := r.requireAdmin(ctx, userID); !ok {
		return replies
	}

	link, err := r.access.IssueLink(ctx, time.Now().UTC())
	if err != nil {
		r.log.Error("transport.invite.fail", "user_id", userID, "err", err)
		return text(msgInternal)
	}
	metrics.LinksIssuedTotal.Inc()
	return text("New invitation link: " + link.Token)
}

func (r *commandRouter) links(ctx context.Context, userID int64) []dialog.Reply {
	if replies, ok := r.requireAdmin(ctx, userID); !ok {
		return replies
	}

	links, err := r.access.ListUnusedLinks(ctx)
	if err != nil {
		r.log.Error("transport.links.fail", "user_id", userID, "err", err)
		return text(msgInternal)
	}
	if len(links) == 0 {
		return text(msgNoLinks)
	}

	var b strings.Builder
	b.WriteString("Unused invitation links:")
	for _, l := range links {
		b.WriteString("\n")
		b.WriteString(l.Token)
	}
	return text(b.String())
}

func (r *commandRouter) adminChange(ctx context.Context, userID int64, arg string, promote bool) []dialog.Reply {
	if replies, ok := r.requireAdmin(ctx, userID); !ok {
		return replies
	}

	target, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || target == 0 {
		return text("Give me a numeric user id.")
	}

	if promote {
		switch err := r.access.AddAdmin(ctx, target); {
		case err == nil:
			return text(fmt.Sprintf("User %d is now an admin.", target))
		case errors.Is(err, access.ErrAlreadyAdmin):
			return text(fmt.Sprintf("User %d is already an admin.", target))
		default:
			r.log.Error("transport.promote.fail", "user_id", userID, "target", target, "err", err)
			return text(msgInternal)
		}
	}

	switch err := r.access.RemoveAdmin(ctx, target); {
	case err == nil:
		return text(fmt.Sprintf("User %d is no longer an admin.", target))
	case errors.Is(err, access.ErrNotAdmin):
		return text(fmt.Sprintf("User %d is not an admin.", target))
	case errors.Is(err, access.ErrLastAdmin):
		return text(msgLastAdmin)
	default:
		r.log.Error("transport.demote.fail", "user_id", userID, "target", target, "err", err)
		return text(msgInternal)
	}
}

func (r *commandRouter) requireAdmin(ctx context.Context, userID int64) ([]dialog.Reply, bool) {
	admin, err := r.access.IsAdmin(ctx, userID)
	if err != nil {
		r.log.Error("transport.admin_check.fail", "user_id", userID, "err", err)
		return text(msgInternal), false
	}
	if !admin {
		return text(msgUnauthorized), false
	}
	return nil, true
}

func text(s string) []dialog.Reply {
	return []dialog.Reply{{Kind: dialog.ReplyText, Text: s}}
}
