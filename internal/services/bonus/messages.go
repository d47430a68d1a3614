package bonus

import (
	"fmt"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
)

const (
	defaultGranted        = "🎉 Спасибо за регистрацию на бирже %s! 🎁 Вам начислены %s подписки на AIHermesPro!"
	defaultAlreadyGranted = "🎉 UID %s успешно привязан. 🎁 Бонус %s уже был начислен ранее."
	defaultReused         = "⚠️ UID %s использован ранее. 🎁 Бонус в %s не предоставляется."
)

var titles = map[models.Partner]string{
	models.PartnerBybit:  "Bybit",
	models.PartnerBingX:  "BingX",
	models.PartnerBlofin: "BloFin",
}

func messageFor(p models.Partner, b config.Bonus, o Outcome) string {
	title, ok := titles[p]
	if !ok {
		title = string(p)
	}
	days := formatDays(b.Duration)

	switch o {
	case OutcomeGranted:
		return pick(b.Messages.Granted, defaultGranted, title, days)
	case OutcomeAlreadyGranted:
		return pick(b.Messages.AlreadyGranted, defaultAlreadyGranted, title, days)
	case OutcomeUIDReused:
		return pick(b.Messages.Reused, defaultReused, title, days)
	}
	return ""
}

func pick(custom, template, title, days string) string {
	if custom != "" {
		return custom
	}
	return fmt.Sprintf(template, title, days)
}

// formatDays «1 день», «4 дня», «30 дней».
func formatDays(d time.Duration) string {
	n := int(d / (24 * time.Hour))
	word := "дней"
	switch {
	case n%100 >= 11 && n%100 <= 14:
	case n%10 == 1:
		word = "день"
	case n%10 >= 2 && n%10 <= 4:
		word = "дня"
	}
	return fmt.Sprintf("%d %s", n, word)
}
