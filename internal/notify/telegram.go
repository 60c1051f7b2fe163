// Package notify pushes low-stock and expiry digests to an operations chat.
// It is a thin consumer of the monitor queries and keeps no state of its own.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockledger/internal/domain/ledger"
)

type Notifier struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	engine     *ledger.Engine
	interval   time.Duration
	expiryDays int
	log        *slog.Logger
}

func New(token string, chatID int64, engine *ledger.Engine, interval time.Duration, expiryDays int, log *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &Notifier{
		bot:        bot,
		chatID:     chatID,
		engine:     engine,
		interval:   interval,
		expiryDays: expiryDays,
		log:        log,
	}, nil
}

// Run loops until ctx is cancelled, sending a digest whenever the monitor
// has something to report.
func (n *Notifier) Run(ctx context.Context) {
	t := time.NewTicker(n.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := n.sendDigest(ctx); err != nil {
				n.log.Error("alert digest failed", "err", err)
			}
		}
	}
}

func (n *Notifier) sendDigest(ctx context.Context) error {
	low, err := n.engine.LowStock(ctx, nil)
	if err != nil {
		return err
	}
	expiring, err := n.engine.ExpiringLots(ctx, n.expiryDays, nil)
	if err != nil {
		return err
	}
	if len(low) == 0 && len(expiring) == 0 {
		return nil
	}

	var b strings.Builder
	if len(low) > 0 {
		b.WriteString("Low stock:\n")
		for _, r := range low {
			mark := "reorder"
			if r.BelowMinStock() {
				mark = "below minimum"
			}
			fmt.Fprintf(&b, "  %s @ location %d: %s on hand (%s)\n", r.ItemCode, r.LocationID, r.OnHand, mark)
		}
	}
	if len(expiring) > 0 {
		fmt.Fprintf(&b, "Expiring within %d days:\n", n.expiryDays)
		for _, r := range expiring {
			fmt.Fprintf(&b, "  lot %s @ location %d: %s on hand, expires %s\n",
				r.Lot.LotNumber, r.LocationID, r.OnHand, r.Lot.ExpiresAt.Format("2006-01-02"))
		}
	}

	msg := tgbotapi.NewMessage(n.chatID, b.String())
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
