package api

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pasteward/cfg"
	"pasteward/pkg/domain"
	"pasteward/svc/lim"
	"pasteward/svc/render"
	"pasteward/svc/svc"
	"pasteward/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

const (
	staffTokenHeader = "X-Staff-Token"
	stylesheetPath   = "/static/highlight.css"
)

type Hdl struct {
	paste    *svc.Paste
	registry *render.Registry
	cfg      *cfg.Cfg
	css      string
}

// PasteResp is the JSON view of a paste. Provenance and sealed snapshots are never
// included.
type PasteResp struct {
	*domain.Paste
	Revisions []int64 `json:"revisions,omitempty"`
}

// NewPaste returns the submission handler for a fixed content type.
func (h *Hdl) NewPaste(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := parseForm(r); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("unreadable form")
			rejectPaste(w)
			return
		}
		h.submit(w, r, typ, nil)
	}
}

// NewOther takes the language from the "selected" parameter and falls back to the
// default for anything the registry does not offer.
func (h *Hdl) NewOther(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("unreadable form")
		rejectPaste(w)
		return
	}
	h.submit(w, r, h.registry.ResolveOther(r.FormValue("selected")), nil)
}

// Edit handles the form posted from a paste's page: staff actions, or a revision.
func (h *Hdl) Edit(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.RequestID(r.Context())
	id, err := pasteID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	if err := parseForm(r); err != nil {
		log.Warn().Err(err).Msg("unreadable form")
		rejectPaste(w)
		return
	}
	view := fmt.Sprintf("/View/%d", id)
	switch single(r.PostForm, "button_type") {
	case "spamblock":
		if err := h.paste.Redact(r.Context(), id, r.Header.Get(staffTokenHeader)); err != nil {
			log.Warn().Err(err).Int64("paste_id", id).Msg("redaction refused")
		}
		http.Redirect(w, r, view, http.StatusSeeOther)
		return
	case "rerender":
		if _, err := h.paste.Rerender(r.Context(), id, r.Header.Get(staffTokenHeader)); err != nil {
			log.Warn().Err(err).Int64("paste_id", id).Msg("rerender refused")
		}
		http.Redirect(w, r, view, http.StatusSeeOther)
		return
	}
	target, err := h.paste.Get(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Int64("paste_id", id).Msg("refused edit")
		writeErr(w, err, requestID)
		return
	}
	h.submit(w, r, target.Type, target)
}

func (h *Hdl) submit(w http.ResponseWriter, r *http.Request, typ string, edits *domain.Paste) {
	form := r.PostForm
	sub := domain.Submission{
		Type:      typ,
		Title:     form["pastetitle"],
		Body:      form["pastecontents"],
		EditOf:    edits,
		Compact:   strings.EqualFold(single(form, "response"), "micro"),
		CompactV2: single(form, "v") == "200",
		Conn: domain.Conn{
			RemoteIP:     lim.GetRealIP(r, h.cfg.TrustedProxies),
			ForwardedFor: r.Header.Values("X-Forwarded-For"),
			RemoteAddr:   r.Header.Values("REMOTE_ADDR"),
		},
	}
	if edits == nil {
		sub.Editing = single(form, "editing")
	}
	out := h.paste.Submit(r.Context(), sub)
	if !out.Accepted {
		rejectPaste(w)
		return
	}
	if sub.Compact {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(out.Location))
		return
	}
	http.Redirect(w, r, out.Location, http.StatusSeeOther)
}

// View serves the rendered paste, or its JSON form when the id ends in ".json".
func (h *Hdl) View(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.RequestID(r.Context())
	idText, asJSON := strings.CutSuffix(chi.URLParam(r, "id"), ".json")
	id, err := pasteID(idText)
	if err != nil {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		log.Debug().Err(err).Int64("paste_id", id).Msg("view failed")
		writeErr(w, err, requestID)
		return
	}
	if asJSON {
		resp := PasteResp{Paste: paste}
		if revs, err := h.paste.Revisions(r.Context(), id); err != nil {
			log.Warn().Err(err).Int64("paste_id", id).Msg("failed to list revisions")
		} else {
			resp.Revisions = revs
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
		return
	}
	title := html.EscapeString(paste.Title)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title>\n<link rel=\"stylesheet\" href=\"%s\"></head>\n<body><h1>%s</h1>\n", title, stylesheetPath, title)
	if paste.Edits != 0 {
		fmt.Fprintf(w, "<p>Edit of <a href=\"/View/%d\">#%d</a></p>\n", paste.Edits, paste.Edits)
	}
	if paste.DiffReport != 0 {
		fmt.Fprintf(w, "<p><a href=\"/View/%d\">Changes</a></p>\n", paste.DiffReport)
	}
	fmt.Fprintf(w, "%s\n</body></html>\n", paste.Formatted)
}

// Stylesheet serves the colors for the class-based highlight markup.
func (h *Hdl) Stylesheet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write([]byte(h.css))
}
func (h *Hdl) Raw(w http.ResponseWriter, r *http.Request) {
	requestID := util.RequestID(r.Context())
	id, err := pasteID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(paste.Raw))
}

// Original shows staff what a removed paste said before redaction.
func (h *Hdl) Original(w http.ResponseWriter, r *http.Request) {
	requestID := util.RequestID(r.Context())
	id, err := pasteID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	text, err := h.paste.Original(r.Context(), id, r.Header.Get(staffTokenHeader))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int64("paste_id", id).Msg("original read refused")
		writeErr(w, err, requestID)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(text))
}

func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(maxFormBytes)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	return nil
}

// single returns the value of key only when it was sent exactly once.
func single(form url.Values, key string) string {
	if v := form[key]; len(v) == 1 {
		return v[0]
	}
	return ""
}
func pasteID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("bad paste id %q", s)
	}
	return id, nil
}

// rejectPaste tells the submitter nothing about why.
func rejectPaste(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte("rejected"))
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
