package notes

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/module"
)

// MaxTitle is the longest accepted title, in runes.
const MaxTitle = 200

type input struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

func (n *Notes) getAll(req *module.Request) (any, error) {
	size := optionInt(req.Module, "pageSize", 20)
	page := 1
	if v := req.URL.Query().Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p-1 > math.MaxInt/size {
			return nil, apierr.Invalid("page must be a positive integer").
				WithData(map[string]any{"page": v})
		}
		page = p
	}

	return map[string]any{
		"results": n.store.List((page-1)*size, size),
		"page":    page,
		"pages":   (n.store.Len() + size - 1) / size,
	}, nil
}

func (n *Notes) recent(req *module.Request) (any, error) {
	return n.store.List(0, 5), nil
}

func (n *Notes) getOne(req *module.Request, id string) (any, error) {
	note, ok := n.store.Get(id)
	if !ok {
		return nil, apierr.NotFound("Note not found").WithData(map[string]any{"_id": id})
	}

	if n.cache != nil {
		maxAge := optionInt(req.Module, "maxAge", 60)
		if n.cache.CheckETag(req, note, maxAge) {
			req.SetStatus(http.StatusNotModified)
			return nil, nil
		}
		n.cache.SetMaxAge(req, maxAge)
	}
	return note, nil
}

func (n *Notes) post(req *module.Request) (any, error) {
	in, err := decode(req)
	if err != nil {
		return nil, err
	}
	if err := validate(in, true); err != nil {
		return nil, err
	}

	note := n.store.Create(strings.TrimSpace(*in.Title), deref(in.Body))
	if host := req.Host(); host != nil {
		if err := host.Emit(req.Context(), Created, Name, map[string]any{"id": note.ID}); err != nil {
			return nil, fmt.Errorf("emit %s: %w", Created, err)
		}
	}

	req.SetStatus(http.StatusCreated)
	return note, nil
}

func (n *Notes) put(req *module.Request, id string) (any, error) {
	in, err := decode(req)
	if err != nil {
		return nil, err
	}
	if err := validate(in, true); err != nil {
		return nil, err
	}
	return n.update(id, func(note *Note) {
		note.Title = strings.TrimSpace(*in.Title)
		note.Body = deref(in.Body)
	})
}

func (n *Notes) patch(req *module.Request, id string) (any, error) {
	in, err := decode(req)
	if err != nil {
		return nil, err
	}
	if err := validate(in, false); err != nil {
		return nil, err
	}
	return n.update(id, func(note *Note) {
		if in.Title != nil {
			note.Title = strings.TrimSpace(*in.Title)
		}
		if in.Body != nil {
			note.Body = *in.Body
		}
	})
}

func (n *Notes) update(id string, fn func(*Note)) (any, error) {
	note, ok := n.store.Update(id, fn)
	if !ok {
		return nil, apierr.NotFound("Note not found").WithData(map[string]any{"_id": id})
	}
	return note, nil
}

func (n *Notes) delete(req *module.Request, id string) (any, error) {
	if !n.store.Delete(id) {
		return nil, apierr.NotFound("Note not found").WithData(map[string]any{"_id": id})
	}
	req.SetStatus(http.StatusNoContent)
	return nil, nil
}

func (n *Notes) page(req *module.Request) (any, error) {
	return map[string]any{
		"notes": n.store.List(0, optionInt(req.Module, "pageSize", 20)),
	}, nil
}

// export writes every note as plain text, one per line.
func (n *Notes) export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, note := range n.store.List(0, 0) {
		fmt.Fprintf(w, "%s\t%s\n", note.ID, note.Title)
	}
}

func decode(req *module.Request) (input, error) {
	var in input
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		return in, apierr.Invalid("Request body must be a JSON object").WithCause(err)
	}
	return in, nil
}

// validate collects every field error into one composite error.
func validate(in input, requireTitle bool) error {
	var errs apierr.Errors
	switch {
	case in.Title == nil || strings.TrimSpace(*in.Title) == "":
		if requireTitle || in.Title != nil {
			errs = append(errs, apierr.Required("title"))
		}
	case utf8.RuneCountInString(strings.TrimSpace(*in.Title)) > MaxTitle:
		errs = append(errs, apierr.New("max", fmt.Sprintf("Title must be at most %d characters", MaxTitle)).
			WithPath("title").
			WithData(map[string]any{"max": MaxTitle}))
	}
	if in.Body != nil && strings.ContainsRune(*in.Body, 0) {
		errs = append(errs, apierr.Invalid("Body must not contain NUL characters").WithPath("body"))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// optionInt reads a numeric module option. YAML overrides decode as int,
// Go definitions may use any integer or float kind.
func optionInt(m *module.Module, key string, def int) int {
	if m == nil {
		return def
	}
	v, ok := m.Option(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	}
	return def
}
