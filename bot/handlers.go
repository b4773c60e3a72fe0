package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"price_tracker/identity"
	"price_tracker/models"
	"price_tracker/services"
	"price_tracker/storage"
)

const helpText = `🤖 *Price tracker*

/list - tracked products with their latest price
/add <url> [target] - track a new product
/target <id> <price|off> - set or clear the target price
/delete <id> - stop tracking a product
/update <id> - check one product now
/updateall - check every product now
/status - tracker status
/help - this message`

func (b *Bot) handleList(ctx context.Context) string {
	summaries, err := b.products.List(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Could not load products: %v", err)
	}
	if len(summaries) == 0 {
		return "No products yet. Use /add <url> to start."
	}

	var sb strings.Builder
	sb.WriteString("📦 *Tracked products*\n")
	for _, s := range summaries {
		name := "(pending first check)"
		if s.Name != nil && *s.Name != "" {
			name = *s.Name
		}
		fmt.Fprintf(&sb, "\n*%s*\n", name)
		fmt.Fprintf(&sb, "ID: %d | %s | %s\n", s.ID, s.Store, s.Status)
		fmt.Fprintf(&sb, "Current: %s | Lowest: %s | Target: %s\n",
			b.money(s.LatestPrice, "not tracked yet"), b.money(s.LowestPrice, "n/a"), b.money(s.TargetPrice, "not set"))
	}
	return sb.String()
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 || len(args) > 2 {
		b.reply(chatID, "❌ Usage: /add <url> [target]")
		return
	}

	var target *float64
	if len(args) == 2 {
		v, err := parsePrice(args[1])
		if err != nil {
			b.reply(chatID, "❌ Target must be a positive number, e.g. 2499.50")
			return
		}
		target = &v
	}

	product, err := b.products.Add(ctx, args[0], target)
	switch {
	case errors.Is(err, storage.ErrDuplicateURL):
		b.reply(chatID, "❌ That URL is already being tracked.")
		return
	case errors.Is(err, identity.ErrUnrecognizedStore), errors.Is(err, identity.ErrInvalidURL):
		b.reply(chatID, "❌ Unrecognized store or invalid URL. Supported: MercadoLibre, LaCuracao, Falabella, Ripley.")
		return
	case err != nil:
		b.reply(chatID, fmt.Sprintf("❌ Could not add product: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("✅ Added product %d (%s). Checking it now...", product.ID, product.Store))
	b.background(ctx, chatID, func(ctx context.Context) string {
		return b.trackReply(ctx, product.ID)
	})
}

func (b *Bot) handleTarget(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "❌ Usage: /target <id> <price|off>"
	}
	id, err := parseID(args[0])
	if err != nil {
		return "❌ Invalid product id."
	}

	var target *float64
	if !strings.EqualFold(args[1], "off") {
		v, err := parsePrice(args[1])
		if err != nil {
			return "❌ Target must be a positive number or 'off'."
		}
		target = &v
	}

	if err := b.products.SetTarget(ctx, id, target); err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return fmt.Sprintf("❌ Product %d not found.", id)
		}
		return fmt.Sprintf("❌ Could not update target: %v", err)
	}
	if target == nil {
		return fmt.Sprintf("✅ Target cleared for product %d.", id)
	}
	return fmt.Sprintf("✅ Target for product %d set to %s %.2f.", id, b.currency, *target)
}

func (b *Bot) handleDelete(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "❌ Usage: /delete <id>"
	}
	id, err := parseID(args[0])
	if err != nil {
		return "❌ Invalid product id."
	}

	if err := b.products.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return fmt.Sprintf("❌ Product %d not found.", id)
		}
		return fmt.Sprintf("❌ Could not delete product: %v", err)
	}
	return fmt.Sprintf("🗑 Product %d deleted.", id)
}

func (b *Bot) handleUpdate(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "❌ Usage: /update <id>")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		b.reply(chatID, "❌ Invalid product id.")
		return
	}

	b.reply(chatID, fmt.Sprintf("🔄 Checking product %d...", id))
	b.background(ctx, chatID, func(ctx context.Context) string {
		return b.trackReply(ctx, id)
	})
}

func (b *Bot) handleUpdateAll(ctx context.Context, chatID int64) {
	b.reply(chatID, "🔄 Checking every product. This can take a while.")
	b.background(ctx, chatID, func(ctx context.Context) string {
		status, err := b.fleet.TrackAll(ctx)
		if err != nil {
			return fmt.Sprintf("❌ Fleet run failed: %v", err)
		}
		if status == models.RunStatusSkipped {
			return "⏭ Fleet run skipped: another run is in progress or the tracker is paused."
		}
		return "✅ Fleet run completed."
	})
}

func (b *Bot) handleStatus(ctx context.Context) string {
	count, err := b.products.Count(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Could not count products: %v", err)
	}
	state := "running"
	if b.fleet.IsPaused() {
		state = "paused"
	}
	return fmt.Sprintf("📊 Tracking %d products. Tracker is %s.", count, state)
}

func (b *Bot) trackReply(ctx context.Context, id int64) string {
	switch b.products.Track(ctx, id) {
	case models.OutcomeUpdated:
		p, err := b.products.Get(ctx, id)
		if err != nil || p == nil {
			return fmt.Sprintf("✅ Product %d updated.", id)
		}
		return fmt.Sprintf("✅ Product %d updated: %s", id, p.DisplayName())
	case models.OutcomeUnavailable:
		return fmt.Sprintf("⚠️ Product %d is unavailable.", id)
	default:
		return fmt.Sprintf("❌ Could not check product %d. It will be retried on the next run.", id)
	}
}

func (b *Bot) money(v *float64, missing string) string {
	if v == nil {
		return missing
	}
	return fmt.Sprintf("%s %.2f", b.currency, *v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !services.ValidPrice(v) {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	return v, nil
}
