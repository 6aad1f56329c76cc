// Package orders persists confirmed orders to a spreadsheet and answers
// "where is my order" questions against a short-lived cache of its rows.
package orders

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

// DefaultCacheExpiry is how long fetched rows stay fresh before a lookup
// refetches the whole sheet.
const DefaultCacheExpiry = 5 * time.Minute

// maxDisplayed caps how many matches are rendered for the customer.
const maxDisplayed = 3

// Order is one confirmed order row.
type Order struct {
	ID          int // 1-based row position, used as a human-readable reference
	Name        string
	Giftee      string
	Date        string
	TimeSlot    string
	Description string
	Timestamp   string
}

// Store reads and appends raw spreadsheet rows.
type Store interface {
	Append(ctx context.Context, row []string) error
	FetchAll(ctx context.Context) ([][]string, error)
}

// Lookup caches the sheet contents and searches them. Safe for concurrent use;
// the cache is shared across all users on purpose, the sheet is one document.
type Lookup struct {
	store  Store
	expiry time.Duration
	logger *logging.Logger

	mu        sync.Mutex
	cached    []Order
	fetchedAt time.Time
	now       func() time.Time
}

// NewLookup creates a Lookup over the given store.
func NewLookup(store Store, expiry time.Duration, logger *logging.Logger) *Lookup {
	if expiry <= 0 {
		expiry = DefaultCacheExpiry
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Lookup{store: store, expiry: expiry, logger: logger, now: time.Now}
}

// Record appends a confirmed order as a sheet row.
func (l *Lookup) Record(ctx context.Context, o Order) error {
	row := []string{o.Name, o.Giftee, o.Date, o.TimeSlot, o.Description, o.Timestamp}
	if err := l.store.Append(ctx, row); err != nil {
		return fmt.Errorf("orders: append row: %w", err)
	}
	// Cached rows are now stale; next lookup refetches.
	l.mu.Lock()
	l.fetchedAt = time.Time{}
	l.mu.Unlock()
	return nil
}

// Search returns orders whose name, giftee or date contains any of the terms,
// case-insensitive. An empty term list returns everything. When the cached
// rows yield no match, the sheet is refetched once before answering empty, so
// an order appended out of band within the cache window is still found.
func (l *Lookup) Search(ctx context.Context, terms []string) ([]Order, error) {
	all, fresh, err := l.fetch(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return all, nil
	}
	out := filterOrders(all, terms)
	if len(out) == 0 && !fresh {
		all, _, err = l.fetch(ctx, true)
		if err != nil {
			return nil, err
		}
		out = filterOrders(all, terms)
	}
	return out, nil
}

func filterOrders(all []Order, terms []string) []Order {
	var out []Order
	for _, o := range all {
		if matchesAny(o, terms) {
			out = append(out, o)
		}
	}
	return out
}

// fetch returns the cached rows when they are fresh, otherwise hits the
// store. The bool reports whether the result comes straight from the store.
func (l *Lookup) fetch(ctx context.Context, force bool) ([]Order, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !force && !l.fetchedAt.IsZero() && l.now().Sub(l.fetchedAt) < l.expiry {
		return l.cached, false, nil
	}

	rows, err := l.store.FetchAll(ctx)
	if err != nil {
		// Serve the stale cache if there is one; a stale answer beats none.
		if l.cached != nil {
			l.logger.Warn("orders: fetch failed, serving stale cache", "error", err)
			return l.cached, false, nil
		}
		return nil, false, fmt.Errorf("orders: fetch rows: %w", err)
	}

	parsed := make([]Order, 0, len(rows))
	for i, row := range rows {
		o := parseRow(i+1, row)
		if o.Name == "" && o.Giftee == "" && o.Date == "" {
			continue
		}
		parsed = append(parsed, o)
	}
	l.cached = parsed
	l.fetchedAt = l.now()
	return l.cached, true, nil
}

func parseRow(id int, row []string) Order {
	get := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	return Order{
		ID:          id,
		Name:        get(0),
		Giftee:      get(1),
		Date:        get(2),
		TimeSlot:    get(3),
		Description: get(4),
		Timestamp:   get(5),
	}
}

func matchesAny(o Order, terms []string) bool {
	fields := []string{
		strings.ToLower(o.Name),
		strings.ToLower(o.Giftee),
		strings.ToLower(o.Date),
	}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		for _, f := range fields {
			if strings.Contains(f, t) {
				return true
			}
		}
	}
	return false
}

var stopWords = map[string]struct{}{
	"mi": {}, "el": {}, "la": {}, "los": {}, "las": {}, "de": {}, "del": {},
	"un": {}, "una": {}, "que": {}, "qué": {}, "como": {}, "cómo": {},
	"donde": {}, "dónde": {}, "esta": {}, "está": {}, "pedido": {}, "orden": {},
	"saber": {}, "quiero": {}, "por": {}, "favor": {}, "sobre": {}, "para": {},
	"cuando": {}, "cuándo": {}, "llega": {}, "hola": {}, "es": {}, "en": {},
	"me": {}, "se": {}, "ya": {},
}

var (
	searchDateRE = regexp.MustCompile(`\b\d{1,2}[/\-.]\d{1,2}(?:[/\-.]\d{2,4})?\b`)
	searchNameRE = regexp.MustCompile(`(?i:me llamo|mi nombre es|a nombre de|soy)\s+([A-ZÁÉÍÓÚÑ][a-záéíóúñü]+(?:\s+[A-ZÁÉÍÓÚÑ][a-záéíóúñü]+){0,3})`)
	capitalRE    = regexp.MustCompile(`[A-ZÁÉÍÓÚÑ][a-záéíóúñü]+`)
)

// ExtractSearchTerms pulls candidate lookup terms out of a free-text status
// question, strongest signal first: date-shaped substrings, then an explicit
// "a nombre de X" name, then capitalized words. Callers try each term in
// order until one yields results.
func ExtractSearchTerms(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(term string) {
		term = strings.Trim(strings.TrimSpace(term), ".,;:¿?¡!\"'")
		key := strings.ToLower(term)
		if len(term) < 3 {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		if _, skip := stopWords[key]; skip {
			return
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}
	for _, d := range searchDateRE.FindAllString(text, -1) {
		add(d)
	}
	if m := searchNameRE.FindStringSubmatch(text); m != nil {
		add(m[1])
	}
	for _, w := range capitalRE.FindAllString(text, -1) {
		add(w)
	}
	return out
}

// FormatOrders renders matches for WhatsApp, capped at three with a note when
// more exist.
func FormatOrders(matches []Order) string {
	if len(matches) == 0 {
		return "No encontré pedidos con esos datos. ¿Me confirmas el nombre con el que hiciste el pedido o la fecha de entrega?"
	}
	var b strings.Builder
	b.WriteString("Encontré estos pedidos:\n")
	shown := matches
	if len(shown) > maxDisplayed {
		shown = shown[:maxDisplayed]
	}
	for _, o := range shown {
		fmt.Fprintf(&b, "\n📦 Pedido #%d\n- A nombre de: %s\n- Para: %s\n- Entrega: %s (%s)\n- Detalle: %s\n",
			o.ID, o.Name, o.Giftee, o.Date, o.TimeSlot, o.Description)
	}
	if len(matches) > maxDisplayed {
		fmt.Fprintf(&b, "\n...y %d más. Dame más detalles para afinar la búsqueda.", len(matches)-maxDisplayed)
	}
	return b.String()
}
