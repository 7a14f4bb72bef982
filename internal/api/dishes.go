package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dishdex/internal/assets"
	"github.com/kalambet/dishdex/internal/catalog"
	"github.com/kalambet/dishdex/internal/storage"
)

const maxUploadSize = assets.MaxImageBytes + maxRequestBodySize

type AppDeps struct {
	Catalog *catalog.Service
	Token   string // empty disables bearer auth
}

// NewAppHandler returns the REST API. /health is served without auth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/dishes", handleCreateDish(deps))
		r.Get("/dishes", handleListDishes(deps))
		r.Get("/dishes/{id}", handleGetDish(deps))
		r.Patch("/dishes/{id}", handlePatchDish(deps))
		r.Delete("/dishes/{id}", handleDeleteDish(deps))
		r.Get("/dishes/{id}/image", handleDishImage(deps))
		r.Post("/dishes/{id}/favorite", handleToggleFavorite(deps))
		r.Post("/dishes/{id}/analyze", handleAnalyzeDish(deps))

		r.Post("/owners", handleCreateOwner(deps))
		r.Get("/owners/{id}", handleGetOwner(deps))

		r.Post("/profiles/refresh", handleRefreshProfiles(deps))
		r.Post("/search/rebuild", handleRebuildIndex(deps))
		r.Get("/stats", handleStats(deps))
	})

	return r
}

func handleCreateDish(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "upload exceeds %d bytes", maxUploadSize)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}

		in := catalog.NewDish{
			Name:      r.FormValue("name"),
			UserNotes: r.FormValue("user_notes"),
		}
		if v := r.FormValue("owner_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid owner_id %q", v)
				return
			}
			in.OwnerID = id
		}
		if v := r.FormValue("favorite"); v != "" {
			fav, err := strconv.ParseBool(v)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid favorite %q", v)
				return
			}
			in.Favorite = fav
		}

		file, _, err := r.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading image: %v", err)
			return
		default:
			defer file.Close()
			in.Image, err = io.ReadAll(io.LimitReader(file, assets.MaxImageBytes+1))
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading image: %v", err)
				return
			}
		}

		if len(in.Image) == 0 && strings.TrimSpace(in.Name) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "an image or a name is required")
			return
		}

		d, err := deps.Catalog.CreateDish(r.Context(), in)
		if err != nil {
			if d.ID == 0 {
				what := "dish"
				if errors.Is(err, catalog.ErrNotFound) {
					what = "owner"
				}
				catalogError(w, what, err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "dish %d saved but not indexed: %v", d.ID, err)
			return
		}
		writeJSON(w, http.StatusCreated, dishView(d))
	}
}

func handleListDishes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := catalog.Scope{FavoritesOnly: parseBoolParam(r, "favorites")}
		if v := r.URL.Query().Get("owner_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid owner_id %q", v)
				return
			}
			scope.OwnerID = id
		}
		limit := parseIntParam(r, "limit", catalog.DefaultSearchLimit, catalog.MaxSearchLimit)

		if q := r.URL.Query().Get("search"); strings.TrimSpace(q) != "" {
			results, err := deps.Catalog.SearchDishes(r.Context(), scope, q, limit)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, resultViews(results))
			return
		}

		dishes, err := deps.Catalog.ListDishes(scope, limit, parseIntParam(r, "offset", 0, 0))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list dishes: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, dishViews(dishes))
	}
}

func handleGetDish(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid dish id")
			return
		}
		d, err := deps.Catalog.GetDish(id)
		if err != nil {
			catalogError(w, "dish", err)
			return
		}
		writeJSON(w, http.StatusOK, dishView(d))
	}
}

// dishPatch holds the fields a PATCH may change. Absent fields keep their
// current value.
type dishPatch struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	DishType    *string            `json:"dish_type"`
	Pairings    *[]storage.Pairing `json:"pairing_suggestions"`
	Favorite    *bool              `json:"favorite"`
	UserNotes   *string            `json:"user_notes"`
}

func (p dishPatch) apply(d storage.Dish) catalog.DishUpdate {
	u := catalog.DishUpdate{
		Name:        d.Name,
		Description: d.Description,
		DishType:    d.DishType,
		Pairings:    d.Pairings,
		Favorite:    d.Favorite,
		UserNotes:   d.UserNotes,
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Description != nil {
		u.Description = *p.Description
	}
	if p.DishType != nil {
		u.DishType = *p.DishType
	}
	if p.Pairings != nil {
		u.Pairings = *p.Pairings
	}
	if p.Favorite != nil {
		u.Favorite = *p.Favorite
	}
	if p.UserNotes != nil {
		u.UserNotes = *p.UserNotes
	}
	return u
}

func handlePatchDish(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid dish id")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var patch dishPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		cur, err := deps.Catalog.GetDish(id)
		if err != nil {
			catalogError(w, "dish", err)
			return
		}
		d, err := deps.Catalog.UpdateDish(r.Context(), id, patch.apply(cur))
		if err != nil {
			catalogError(w, "dish", err)
			return
		}
		writeJSON(w, http.StatusOK, dishView(d))
	}
}

func handleDeleteDish(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid dish id")
			return
		}
		if err := deps.Catalog.DeleteDish(r.Context(), id); err != nil {
			catalogError(w, "dish", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleDishImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid dish id")
			return
		}
		data, contentType, err := deps.Catalog.ImageFor(id)
		if err != nil {
			catalogError(w, "image", err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

func handleToggleFavorite(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid dish id")
			return
		}
		d, err := deps.Catalog.ToggleFavorite(r.Context(), id)
		if err != nil {
			catalogError(w, "dish", err)
			return
		}
		writeJSON(w, http.StatusOK, dishView(d))
	}
}

func handleAnalyzeDish(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid dish id")
			return
		}
		jobID, err := deps.Catalog.ScheduleEnrichment(id)
		if err != nil {
			catalogError(w, "dish", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
	}
}

func handleCreateOwner(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		o, err := deps.Catalog.CreateOwner(req.Name, req.Email)
		if err != nil {
			catalogError(w, "owner", err)
			return
		}
		writeJSON(w, http.StatusCreated, ownerView(o))
	}
}

func handleGetOwner(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid owner id")
			return
		}
		o, err := deps.Catalog.GetOwner(id)
		if err != nil {
			catalogError(w, "owner", err)
			return
		}
		writeJSON(w, http.StatusOK, ownerView(o))
	}
}

func handleRefreshProfiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			OwnerID int64 `json:"owner_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		jobID, err := deps.Catalog.RunProfileAggregation(req.OwnerID)
		if err != nil {
			catalogError(w, "owner", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
	}
}

func handleRebuildIndex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Catalog.RebuildIndex(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rebuild failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"indexed": n})
	}
}

// StatsView is the JSON shape of /stats.
type StatsView struct {
	Dishes      int            `json:"dishes"`
	IndexedRows int            `json:"indexed_rows"`
	Jobs        map[string]int `json:"jobs"`
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Catalog.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, StatsView{Dishes: st.Dishes, IndexedRows: st.IndexedRows, Jobs: st.Jobs})
	}
}
