package render_test

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/storage"
)

// stripSpaces removes every kind of grouping space the locale may emit.
func stripSpaces(s string) string {
	return strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "").Replace(s)
}

func TestPluralForm(t *testing.T) {
	tests := []struct {
		count int64
		want  string
	}{
		{1, "занятие"},
		{2, "занятия"},
		{4, "занятия"},
		{5, "занятий"},
		{11, "занятий"},
		{12, "занятий"},
		{19, "занятий"},
		{21, "занятие"},
		{22, "занятия"},
		{111, "занятий"},
		{0, "занятий"},
	}
	for _, tt := range tests {
		got := render.PluralForm(tt.count, "занятие", "занятия", "занятий")
		assert.Equal(t, tt.want, got, "count=%d", tt.count)
	}
}

func TestFormatMoney(t *testing.T) {
	t.Run("whole amount has no fraction", func(t *testing.T) {
		got, err := render.FormatMoney(float64(5000))
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(got, "₽"))
		assert.Equal(t, "5000₽", stripSpaces(got))
	})

	t.Run("fractional amount", func(t *testing.T) {
		got, err := render.FormatMoney(1234.5)
		require.NoError(t, err)
		assert.Equal(t, "1234,50₽", stripSpaces(got))
	})

	t.Run("currency code", func(t *testing.T) {
		got, err := render.FormatMoney(10, "usd")
		require.NoError(t, err)
		assert.Equal(t, "10$", stripSpaces(got))
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := render.FormatMoney("abc")
		assert.Error(t, err)
	})
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2026, 5, 4, 6, 30, 0, 0, time.UTC)
	msk := time.FixedZone("MSK", 3*3600)

	tests := []struct {
		name   string
		value  any
		layout string
		want   string
	}{
		{"default layout", ts, "", "04.05.2026"},
		{"time", ts, render.LayoutTime, "09:30"},
		{"datetime from string", "2026-05-04T06:30:00Z", render.LayoutDateTime, "04.05.2026 09:30"},
		{"long", ts, render.LayoutLong, "4 мая 2026"},
		{"unix millis", float64(ts.UnixMilli()), render.LayoutDate, "04.05.2026"},
		{"go layout", ts, "2006/01/02", "2026/05/04"},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := render.FormatDate(tt.value, msk, tt.layout)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderer_Render(t *testing.T) {
	r := render.New()

	t.Run("telegram renders text", func(t *testing.T) {
		tpl := &storage.Template{
			ID:      "tg-1",
			Channel: storage.ChannelTelegram,
			Body:    "{{.name}}, у вас {{.count}} {{plural .count \"занятие\" \"занятия\" \"занятий\"}}",
		}
		got, err := r.Render(tpl, map[string]any{"name": "Анна", "count": 3}, storage.ChannelTelegram)
		require.NoError(t, err)
		assert.Equal(t, render.FormatText, got.Format)
		assert.Equal(t, "Анна, у вас 3 занятия", got.Body)
		assert.Empty(t, got.Subject)
	})

	t.Run("email renders html with subject and escapes payload", func(t *testing.T) {
		tpl := &storage.Template{
			ID:      "em-1",
			Channel: storage.ChannelEmail,
			Subject: "Оплата {{formatMoney .amount}}",
			Body:    "<p>{{.note}}</p>",
		}
		got, err := r.Render(tpl, map[string]any{"amount": 5000, "note": "<b>hi</b>"}, storage.ChannelEmail)
		require.NoError(t, err)
		assert.Equal(t, render.FormatHTML, got.Format)
		assert.Equal(t, "Оплата5000₽", stripSpaces(got.Subject))
		assert.Equal(t, "<p>&lt;b&gt;hi&lt;/b&gt;</p>", got.Body)
	})

	t.Run("conditionals", func(t *testing.T) {
		tpl := &storage.Template{
			ID:   "cond",
			Body: `{{if eq .status "paid"}}Оплачено{{else if and .due (not .paid)}}Ожидает{{else}}-{{end}}`,
		}
		got, err := r.Render(tpl, map[string]any{"status": "paid"}, storage.ChannelTelegram)
		require.NoError(t, err)
		assert.Equal(t, "Оплачено", got.Body)

		got, err = r.Render(tpl, map[string]any{"status": "new", "due": true, "paid": false}, storage.ChannelTelegram)
		require.NoError(t, err)
		assert.Equal(t, "Ожидает", got.Body)
	})

	t.Run("missing payload key renders empty", func(t *testing.T) {
		tpl := &storage.Template{ID: "missing", Body: "Привет, {{.name}}!"}
		got, err := r.Render(tpl, nil, storage.ChannelTelegram)
		require.NoError(t, err)
		assert.Equal(t, "Привет, !", got.Body)
	})

	t.Run("nil template", func(t *testing.T) {
		got, err := r.Render(nil, map[string]any{"x": 1}, storage.ChannelEmail)
		require.NoError(t, err)
		assert.True(t, got.Empty())
		assert.Equal(t, render.FormatText, got.Format)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := r.Render(&storage.Template{ID: "broken", Body: "{{.name"}, nil, storage.ChannelTelegram)
		assert.Error(t, err)
	})
}

func TestRenderer_ComparesJSONNumbers(t *testing.T) {
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"count":3,"amount":5000,"code":"007","status":"paid","vip":true}`), &payload))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"gt int literal", `{{if gt .count 1}}many{{else}}one{{end}}`, "many"},
		{"le int literal", `{{if le .count 3}}yes{{end}}`, "yes"},
		{"lt float literal", `{{if lt .count 3.5}}yes{{end}}`, "yes"},
		{"ge against string number", `{{if ge .amount "5000"}}yes{{end}}`, "yes"},
		{"eq int literal", `{{if eq .amount 5000}}exact{{end}}`, "exact"},
		{"eq any of", `{{if eq .count 1 2 3}}hit{{end}}`, "hit"},
		{"ne int literal", `{{if ne .count 4}}differs{{end}}`, "differs"},
		{"missing key is zero", `{{if gt .missing 0}}pos{{else}}none{{end}}`, "none"},
		{"strings stay strings", `{{if eq .code "7"}}num{{else}}str{{end}}`, "str"},
		{"string equality", `{{if eq .status "paid"}}Оплачено{{end}}`, "Оплачено"},
		{"missing string", `{{if eq .absent "paid"}}paid{{else}}-{{end}}`, "-"},
		{"bool equality", `{{if eq .vip true}}VIP{{end}}`, "VIP"},
		{"lexical order", `{{if lt .status "zzz"}}before{{end}}`, "before"},
	}
	r := render.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Preview(tt.body, "", payload, storage.ChannelTelegram)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Body)
		})
	}

	t.Run("email body uses the same helpers", func(t *testing.T) {
		got, err := r.Preview(`<p>{{if gt .count 2}}{{formatMoney .amount}}{{end}}</p>`, "", payload, storage.ChannelEmail)
		require.NoError(t, err)
		assert.Equal(t, "<p>5000₽</p>", stripSpaces(got.Body))
	})

	t.Run("incompatible types", func(t *testing.T) {
		_, err := r.Preview(`{{if gt .vip 1}}x{{end}}`, "", payload, storage.ChannelTelegram)
		assert.Error(t, err)
	})
}

func TestRenderer_Cache(t *testing.T) {
	r := render.New()
	tpl := &storage.Template{ID: "t1", Subject: "S {{.a}}", Body: "v1 {{.a}}", Channel: storage.ChannelEmail}
	other := &storage.Template{ID: "t2", Body: "other"}

	got, err := r.Render(tpl, map[string]any{"a": "x"}, storage.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "v1 x", got.Body)
	_, err = r.Render(other, nil, storage.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, 3, r.CacheSize())

	// Edited content is not seen until the cache entry is cleared.
	tpl.Body = "v2 {{.a}}"
	got, err = r.Render(tpl, map[string]any{"a": "x"}, storage.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "v1 x", got.Body)

	r.ClearCache("t1")
	assert.Equal(t, 1, r.CacheSize())
	got, err = r.Render(tpl, map[string]any{"a": "x"}, storage.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "v2 x", got.Body)

	r.ClearCache("")
	assert.Equal(t, 0, r.CacheSize())
}

func TestRenderer_Preview(t *testing.T) {
	r := render.New()
	got, err := r.Preview("Итого {{formatNumber .n}}", "Тема {{.s}}", map[string]any{"n": 1234567, "s": "x"}, storage.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, "Итого1234567", stripSpaces(got.Body))
	assert.Equal(t, "Тема x", got.Subject)
	assert.Equal(t, 0, r.CacheSize())
}

func TestRenderer_ExtractVariables(t *testing.T) {
	r := render.New()
	vars, err := r.ExtractVariables(
		`{{.name}} {{if gt .count 1}}{{plural .count "a" "b" "c"}}{{end}} {{formatMoney .amount "RUB"}} {{.client.email}} {{$.name}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"amount", "client", "count", "name"}, vars)

	scoped, err := r.ExtractVariables(
		`{{range .items}}{{.title}} {{$.currency}}{{else}}{{.empty_note}}{{end}}{{with .client}}{{.email}}{{end}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"client", "currency", "empty_note", "items"}, scoped)

	_, err = r.ExtractVariables("{{.broken")
	assert.Error(t, err)

	none, err := r.ExtractVariables("plain text")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRenderer_ConcurrentRender(t *testing.T) {
	r := render.New()
	tpl := &storage.Template{ID: "c", Body: "<i>{{.n}}</i>"}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Render(tpl, map[string]any{"n": i}, storage.ChannelEmail)
			assert.NoError(t, err)
			assert.Contains(t, got.Body, "<i>")
		}()
	}
	wg.Wait()
}
