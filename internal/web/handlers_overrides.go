package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/JonMunkholm/stockfeed/internal/core"
	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/JonMunkholm/stockfeed/internal/logging"
	"github.com/JonMunkholm/stockfeed/internal/overrides"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// OverrideRequest is the body of PUT /api/overrides/{itemID}.
type OverrideRequest struct {
	Hidden       bool     `json:"hidden"`
	HiddenFields []string `json:"hiddenFields" validate:"max=12,dive,hideable"`
	ImageURL     string   `json:"imageUrl" validate:"omitempty,max=2048,absurl"`
	Note         string   `json:"note" validate:"max=1000"`
}

// ColumnsRequest is the body of PUT /api/columns. Empty letters clear a role.
type ColumnsRequest struct {
	Columns map[string]string `json:"columns" validate:"required,max=32,dive,keys,min=1,max=32,endkeys,omitempty,alpha,max=7"`
}

// ColumnsResponse describes the column mapping at every layer.
type ColumnsResponse struct {
	Configured inventory.Mapping `json:"configured"`
	Effective  inventory.Mapping `json:"effective"`
	Resolved   map[string]string `json:"resolved,omitempty"`
	Roles      []RoleInfo        `json:"roles"`
}

// RoleInfo documents one role for the settings screen.
type RoleInfo struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Mappable bool     `json:"mappable"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("hideable", func(fl validator.FieldLevel) bool {
		return overrides.IsHideableField(fl.Field().String())
	})
	v.RegisterValidation("absurl", func(fl validator.FieldLevel) bool {
		return overrides.IsAbsoluteURL(fl.Field().String())
	})
	// Report JSON names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// On failure it writes the response and returns false.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, code string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			s.respondErrorStatus(w, r, err, http.StatusBadRequest)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		logging.FromContext(r.Context()).Warn("request validation failed", "path", r.URL.Path, "fields", fields)
		respondErrorJSON(w, ErrorResponse{
			Error:   "validation failed",
			Message: "Some fields are not valid",
			Action:  "Correct the listed fields and try again",
			Code:    code,
			Fields:  fields,
		}, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	ovs, err := s.service.Overrides().List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, ovs)
}

func (s *Server) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	o, err := s.service.Overrides().Get(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, o)
}

// handlePutOverride creates or replaces the override for one item.
func (s *Server) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	var req OverrideRequest
	if !s.decodeAndValidate(w, r, &req, "OVR002") {
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	saved, err := s.service.Overrides().Put(ctx, overrides.Override{
		ItemID:       itemID,
		Hidden:       req.Hidden,
		HiddenFields: req.HiddenFields,
		ImageURL:     strings.TrimSpace(req.ImageURL),
		Note:         strings.TrimSpace(req.Note),
		UpdatedBy:    core.ActorFromContext(ctx),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(ctx, "item_id", itemID).Info("override saved",
		"hidden", saved.Hidden,
		"hidden_fields", len(saved.HiddenFields),
		"updated_by", saved.UpdatedBy,
	)
	writeJSON(w, saved)
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	ctx := WithRequestMetadata(r.Context(), r)
	if err := s.service.Overrides().Delete(ctx, itemID); err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(ctx, "item_id", itemID).Info("override deleted", "actor", core.ActorFromContext(ctx))
	w.WriteHeader(http.StatusNoContent)
}

// handleGetColumns reports configured, effective and resolved columns.
func (s *Server) handleGetColumns(w http.ResponseWriter, r *http.Request) {
	resp, err := s.columnsResponse(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, resp)
}

// handlePutColumns stores a new column mapping and re-parses the current
// sheet with it.
func (s *Server) handlePutColumns(w http.ResponseWriter, r *http.Request) {
	var req ColumnsRequest
	if !s.decodeAndValidate(w, r, &req, "OVR003") {
		return
	}

	m := inventory.Mapping(req.Columns)
	if err := m.Validate(); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	if _, err := s.service.SaveColumnMapping(ctx, m, core.ActorFromContext(ctx)); err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(ctx).Info("column mapping saved", "columns", len(m), "actor", core.ActorFromContext(ctx))

	resp, err := s.columnsResponse(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) columnsResponse(r *http.Request) (ColumnsResponse, error) {
	effective, err := s.service.ColumnMapping(r.Context())
	if err != nil {
		return ColumnsResponse{}, err
	}

	resp := ColumnsResponse{
		Configured: s.cfg.Columns.Mapping(),
		Effective:  effective,
	}
	if snap, err := s.service.Store().Current(); err == nil {
		resp.Resolved = snap.Columns.Letters()
	}
	for _, spec := range inventory.Roles() {
		resp.Roles = append(resp.Roles, RoleInfo{
			Name:     spec.Name,
			Keywords: spec.Keywords,
			Mappable: spec.Mappable,
		})
	}
	return resp, nil
}
