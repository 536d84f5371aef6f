package funnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgarduno-ZAPATA/tono-gateway/internal/config"
)

const (
	boardTimeout     = 25 * time.Second
	boardMaxRetries  = 3
	defaultBoardName = "Lead WhatsApp"
)

// Spanish month names used for monthly board groups ("FEBRERO 2026").
var monthNames = [...]string{
	"ENERO", "FEBRERO", "MARZO", "ABRIL", "MAYO", "JUNIO",
	"JULIO", "AGOSTO", "SEPTIEMBRE", "OCTUBRE", "NOVIEMBRE", "DICIEMBRE",
}

// BoardClient syncs leads to a monday.com-style GraphQL board API.
type BoardClient struct {
	cfg    config.FunnelConfig
	http   *http.Client
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	apiURL string
}

func NewBoardClient(cfg config.FunnelConfig) *BoardClient {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.monday.com/v2"
	}
	return &BoardClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: boardTimeout},
		now:    time.Now,
		apiURL: apiURL,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// UpsertLead finds the lead by phone and updates it, or creates it in the
// current month's group. A note is attached for new leads and explicit stage
// notes.
func (b *BoardClient) UpsertLead(ctx context.Context, lead Lead, stage, note string) error {
	phone := SanitizePhone(lead.Phone)
	if phone == "" {
		return fmt.Errorf("lead without phone")
	}
	name := strings.TrimSpace(lead.Name)
	if name == "" {
		name = defaultBoardName
	}

	itemID, err := b.findItemByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("find lead %s: %w", phone, err)
	}

	columns := map[string]any{}
	if b.cfg.PhoneColumnID != "" {
		columns[b.cfg.PhoneColumnID] = map[string]string{
			"phone":            phone,
			"countryShortName": "MX",
		}
	}
	if stage != "" && b.cfg.StageColumnID != "" {
		columns[b.cfg.StageColumnID] = map[string]string{"label": stage}
	}

	isNew := itemID == ""
	if isNew {
		itemID, err = b.createItem(ctx, name+" | "+phone, columns)
	} else {
		err = b.updateItem(ctx, itemID, columns)
	}
	if err != nil {
		return fmt.Errorf("upsert lead %s: %w", phone, err)
	}

	if itemID != "" && (isNew || note != "") {
		body := note
		if isNew {
			body = b.newLeadNote(lead, stage, name, phone)
		}
		if err := b.addNote(ctx, itemID, body); err != nil {
			return fmt.Errorf("add note to lead %s: %w", phone, err)
		}
	}
	return nil
}

func (b *BoardClient) newLeadNote(lead Lead, stage, name, phone string) string {
	var sb strings.Builder
	if stage == "" {
		stage = StageMensaje
	}
	fmt.Fprintf(&sb, "ETAPA: %s\nNombre: %s\nTel: %s\nInterés: %s\n",
		stage, name, phone, orNA(lead.Interest))
	if lead.Appointment != "" {
		fmt.Fprintf(&sb, "Cita: %s\n", lead.Appointment)
	}
	if lead.Payment != "" {
		fmt.Fprintf(&sb, "Pago: %s\n", lead.Payment)
	}
	if lead.ExternalID != "" {
		fmt.Fprintf(&sb, "Ref: %s\n", lead.ExternalID)
	}
	return sb.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func (b *BoardClient) findItemByPhone(ctx context.Context, phone string) (string, error) {
	if b.cfg.PhoneColumnID == "" {
		return "", nil
	}
	const query = `
	query ($board_id: ID!, $col_id: String!, $val: String!) {
	  items_page_by_column_values(
	    limit: 1,
	    board_id: $board_id,
	    columns: [{column_id: $col_id, column_values: [$val]}]
	  ) {
	    items { id }
	  }
	}`
	raw, err := b.graphql(ctx, query, map[string]any{
		"board_id": b.cfg.BoardID,
		"col_id":   b.cfg.PhoneColumnID,
		"val":      phone,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			Page struct {
				Items []struct {
					ID string `json:"id"`
				} `json:"items"`
			} `json:"items_page_by_column_values"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode find response: %w", err)
	}
	if len(resp.Data.Page.Items) == 0 {
		return "", nil
	}
	return resp.Data.Page.Items[0].ID, nil
}

func (b *BoardClient) createItem(ctx context.Context, name string, columns map[string]any) (string, error) {
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return "", fmt.Errorf("marshal column values: %w", err)
	}

	groupID := ""
	if b.cfg.GroupByMonth {
		groupID, err = b.currentMonthGroupID(ctx)
		if err != nil {
			// A missing group is not fatal; create outside any group.
			groupID = ""
		}
	}

	query := `
	mutation ($board_id: ID!, $name: String!, $vals: JSON!) {
	  create_item (board_id: $board_id, item_name: $name, column_values: $vals) { id }
	}`
	vars := map[string]any{
		"board_id": b.cfg.BoardID,
		"name":     name,
		"vals":     string(columnsJSON),
	}
	if groupID != "" {
		query = `
	mutation ($board_id: ID!, $group_id: String!, $name: String!, $vals: JSON!) {
	  create_item (board_id: $board_id, group_id: $group_id, item_name: $name, column_values: $vals) { id }
	}`
		vars["group_id"] = groupID
	}

	raw, err := b.graphql(ctx, query, vars)
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			CreateItem struct {
				ID string `json:"id"`
			} `json:"create_item"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return resp.Data.CreateItem.ID, nil
}

func (b *BoardClient) updateItem(ctx context.Context, itemID string, columns map[string]any) error {
	if len(columns) == 0 {
		return nil
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("marshal column values: %w", err)
	}
	const query = `
	mutation ($item_id: ID!, $board_id: ID!, $vals: JSON!) {
	  change_multiple_column_values (item_id: $item_id, board_id: $board_id, column_values: $vals) { id }
	}`
	_, err = b.graphql(ctx, query, map[string]any{
		"item_id":  itemID,
		"board_id": b.cfg.BoardID,
		"vals":     string(columnsJSON),
	})
	return err
}

func (b *BoardClient) addNote(ctx context.Context, itemID, body string) error {
	const query = `
	mutation ($item_id: ID!, $body: String!) {
	  create_update (item_id: $item_id, body: $body) { id }
	}`
	_, err := b.graphql(ctx, query, map[string]any{
		"item_id": itemID,
		"body":    body,
	})
	return err
}

// currentMonthGroupID resolves the board group named after the current month
// ("FEBRERO 2026").
func (b *BoardClient) currentMonthGroupID(ctx context.Context) (string, error) {
	now := b.now()
	wanted := fmt.Sprintf("%s %d", monthNames[now.Month()-1], now.Year())

	const query = `
	query ($board_id: ID!) {
	  boards(ids: [$board_id]) {
	    groups { id title }
	  }
	}`
	raw, err := b.graphql(ctx, query, map[string]any{"board_id": b.cfg.BoardID})
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			Boards []struct {
				Groups []struct {
					ID    string `json:"id"`
					Title string `json:"title"`
				} `json:"groups"`
			} `json:"boards"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode groups response: %w", err)
	}
	if len(resp.Data.Boards) == 0 {
		return "", fmt.Errorf("board %s not found", b.cfg.BoardID)
	}
	for _, g := range resp.Data.Boards[0].Groups {
		if strings.EqualFold(g.Title, wanted) {
			return g.ID, nil
		}
	}
	return "", fmt.Errorf("group %q not found", wanted)
}

// graphql posts one query, retrying transient failures with exponential
// backoff.
func (b *BoardClient) graphql(ctx context.Context, query string, variables map[string]any) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < boardMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if err := b.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build graphql request: %w", err)
		}
		req.Header.Set("Authorization", b.cfg.APIToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("board API returned %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("board API rejected request: %d %s", resp.StatusCode, raw)
		}

		var check struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		if err := json.Unmarshal(raw, &check); err == nil && len(check.Errors) > 0 {
			return nil, fmt.Errorf("board API error: %s", check.Errors[0].Message)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("board API unavailable after %d attempts: %w", boardMaxRetries, lastErr)
}
