// Package catalog holds the vehicle inventory the responder sells from. The
// source of truth is a CSV export, either a published sheet URL or a local
// file, reloaded on a schedule and on local file changes.
package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Item is one sellable vehicle.
type Item struct {
	Brand       string
	Model       string
	Year        string
	Color       string
	Segment     string
	Price       string
	Currency    string
	Warranty    string
	Location    string
	Description string
	Financing   string
	Bank        string
	Photos      []string
	PDFURL      string
	Specs       map[string]string
}

// availableStatuses are the status column values that keep a row listed.
var availableStatuses = map[string]bool{
	"disponible": true, "available": true, "1": true,
	"si": true, "sí": true, "yes": true,
}

// Catalog is the in-memory inventory snapshot. Safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	items     []Item
	loadedAt  time.Time
	localPath string
	sheetURL  string
	http      *http.Client
}

func New(localPath, sheetCSVURL string) *Catalog {
	return &Catalog{
		localPath: localPath,
		sheetURL:  sheetCSVURL,
		http:      &http.Client{Timeout: 20 * time.Second},
	}
}

// ensureInterval throttles EnsureLoaded so turn processing does not refetch
// the sheet on every message.
const ensureInterval = 5 * time.Minute

// EnsureLoaded refreshes the inventory only when the snapshot is stale.
func (c *Catalog) EnsureLoaded(ctx context.Context) error {
	c.mu.RLock()
	fresh := !c.loadedAt.IsZero() && time.Since(c.loadedAt) < ensureInterval
	c.mu.RUnlock()
	if fresh {
		return nil
	}
	return c.Load(ctx)
}

// Load refreshes the inventory from the configured source. The previous
// snapshot stays in place on failure.
func (c *Catalog) Load(ctx context.Context) error {
	var (
		r   io.ReadCloser
		err error
	)
	if c.sheetURL != "" {
		r, err = c.fetchSheet(ctx)
	} else {
		r, err = c.openLocal()
	}
	if err != nil {
		return err
	}
	if r == nil {
		// No source configured; an empty catalog is a valid deployment.
		c.mu.Lock()
		c.items = nil
		c.loadedAt = time.Now()
		c.mu.Unlock()
		return nil
	}
	defer r.Close()

	items, err := parseCSV(r)
	if err != nil {
		return fmt.Errorf("parse inventory csv: %w", err)
	}

	c.mu.Lock()
	c.items = items
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Catalog) fetchSheet(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(c.sheetURL), nil)
	if err != nil {
		return nil, fmt.Errorf("build sheet request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch inventory sheet: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("inventory sheet returned %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Catalog) openLocal() (io.ReadCloser, error) {
	if c.localPath == "" {
		return nil, nil
	}
	f, err := os.Open(c.localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open inventory file: %w", err)
	}
	return f, nil
}

// Items returns the current snapshot. Callers must not mutate it.
func (c *Catalog) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items
}

// Len reports the number of listed vehicles.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// LoadedAt reports when the snapshot was last refreshed.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// FindByModel returns listed items whose model contains the query,
// case-insensitive.
func (c *Catalog) FindByModel(query string) []Item {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var found []Item
	for _, item := range c.items {
		if strings.Contains(strings.ToLower(item.Model), query) {
			found = append(found, item)
		}
	}
	return found
}

func parseCSV(r io.Reader) ([]Item, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var items []Item
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make(map[string]string, len(header))
		for i, v := range record {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(v)
			}
		}

		if status := strings.ToLower(row["status"]); status != "" && !availableStatuses[status] {
			continue
		}

		items = append(items, itemFromRow(row))
	}
	return items, nil
}

func itemFromRow(row map[string]string) Item {
	item := Item{
		Brand:       firstNonEmpty(row["Marca"], "Foton"),
		Model:       row["Modelo"],
		Year:        firstNonEmpty(row["Año"], row["Anio"]),
		Color:       row["Color"],
		Segment:     row["segmento"],
		Price:       cleanPrice(firstNonEmpty(row["Precio"], row["Precio Distribuidor"])),
		Currency:    row["moneda"],
		Warranty:    row["garantia_texto"],
		Location:    row["ubicacion"],
		Description: row["descripcion_corta"],
		Financing:   row["Financiamiento"],
		Bank:        row["Banco"],
		Photos:      splitPhotos(row["photos"]),
		PDFURL:      row["pdf_url"],
		Specs:       map[string]string{},
	}
	for _, key := range []string{"CAPACIDAD DE CARGA", "LLANTAS", "COMBUSTIBLE", "MOTOR"} {
		if v := row[key]; v != "" {
			item.Specs[key] = v
		}
	}
	return item
}

func cleanPrice(v string) string {
	cleaned := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(v))
	if cleaned == "" {
		return v
	}
	return cleaned
}

func splitPhotos(v string) []string {
	if v == "" {
		return nil
	}
	var photos []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == '\n' || r == ' '
	}) {
		if p = strings.TrimSpace(p); p != "" {
			photos = append(photos, p)
		}
	}
	return photos
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
