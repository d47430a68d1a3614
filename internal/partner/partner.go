// Package partner проверяет, является ли внешний UID рефералом оператора на бирже.
//
// Каждая биржа реализует Fetcher, который отдаёт одну подписанную страницу
// списка рефералов. Scanner листает страницы до совпадения или последней страницы.
// Любая ошибка биржи приводит к результату «не найден», наружу она не пробрасывается.
package partner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/hermes-ledger/internal/models"
)

// Referral результат поиска UID.
type Referral struct {
	Found bool `json:"found"`
	KYC   bool `json:"kyc"`
}

// Lookup ищет UID среди рефералов биржи.
type Lookup interface {
	FindReferral(ctx context.Context, uid string) Referral
}

// Invitee строка списка рефералов.
type Invitee struct {
	UID string
	KYC bool
}

// Page страница списка рефералов.
type Page struct {
	Invitees []Invitee
	// Next курсор следующей страницы.
	Next string
	// Last признак конца списка, например короткая страница.
	Last bool
}

// Fetcher загружает страницу по курсору; пустой курсор означает первую страницу.
type Fetcher interface {
	FetchPage(ctx context.Context, cursor string, pageSize int) (Page, error)
}

// Observer получает длительность и результат каждого поиска.
type Observer interface {
	ObserveLookup(partner string, found bool, d time.Duration)
}

// Options параметры обхода.
type Options struct {
	PageSize int
	MaxPages int
	// RPS ограничение запросов страниц в секунду, 0 без ограничения.
	RPS      float64
	Observer Observer
}

// Scanner постранично ищет UID через Fetcher.
type Scanner struct {
	log      *slog.Logger
	partner  models.Partner
	fetcher  Fetcher
	pageSize int
	maxPages int
	limiter  *rate.Limiter
	observer Observer
}

// NewScanner создаёт Scanner для биржи p.
func NewScanner(log *slog.Logger, p models.Partner, fetcher Fetcher, opts Options) *Scanner {
	s := &Scanner{
		log:      log,
		partner:  p,
		fetcher:  fetcher,
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		observer: opts.Observer,
	}
	if s.pageSize <= 0 {
		s.pageSize = 50
	}
	if s.maxPages <= 0 {
		s.maxPages = 200
	}
	if opts.RPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return s
}

// FindReferral листает список рефералов с первой страницы.
func (s *Scanner) FindReferral(ctx context.Context, uid string) Referral {
	const op = "partner.FindReferral"
	log := s.log.With(slog.String("op", op), slog.String("partner", string(s.partner)), slog.String("uid", uid))

	started := time.Now()
	res := s.scan(ctx, log, uid)
	if s.observer != nil {
		s.observer.ObserveLookup(string(s.partner), res.Found, time.Since(started))
	}
	return res
}

func (s *Scanner) scan(ctx context.Context, log *slog.Logger, uid string) Referral {
	if uid == "" {
		return Referral{}
	}

	cursor := ""
	for page := 1; page <= s.maxPages; page++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				log.Warn("lookup interrupted", sl.Err(err))
				return Referral{}
			}
		}

		p, err := s.fetcher.FetchPage(ctx, cursor, s.pageSize)
		if err != nil {
			log.Warn("failed to fetch referral page", slog.Int("page", page), sl.Err(err))
			return Referral{}
		}
		for _, inv := range p.Invitees {
			if inv.UID == uid {
				log.Info("referral found", slog.Bool("kyc", inv.KYC))
				return Referral{Found: true, KYC: inv.KYC}
			}
		}

		if p.Last || p.Next == "" {
			log.Info("referral not found", slog.Int("pages", page))
			return Referral{}
		}
		cursor = p.Next
	}

	log.Warn("referral scan reached page limit", slog.Int("max_pages", s.maxPages))
	return Referral{}
}

// Static Lookup с заранее заданным множеством рефералов, для локального запуска и тестов.
type Static map[string]Referral

// FindReferral возвращает запись из множества.
func (s Static) FindReferral(_ context.Context, uid string) Referral {
	return s[uid]
}
