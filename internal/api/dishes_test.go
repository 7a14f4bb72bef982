package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/dishdex/internal/assets"
	"github.com/kalambet/dishdex/internal/catalog"
	"github.com/kalambet/dishdex/internal/locale"
	"github.com/kalambet/dishdex/internal/search"
	"github.com/kalambet/dishdex/internal/storage"
)

const testToken = "test-token-12345"

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestCatalog(t *testing.T) (*catalog.Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ix, err := search.NewDishIndexer(store.DB())
	if err != nil {
		t.Fatalf("NewDishIndexer: %v", err)
	}
	images, err := assets.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("assets.NewStore: %v", err)
	}
	return catalog.NewService(store, ix, images, locale.PtBR), store
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *catalog.Service, *storage.Store) {
	t.Helper()
	svc, store := newTestCatalog(t)
	return NewAppHandler(AppDeps{Catalog: svc, Token: token}), svc, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func multipartReq(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "dish.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(image)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/dishes", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func seedDish(t *testing.T, svc *catalog.Service, name, desc string) storage.Dish {
	t.Helper()
	d, err := svc.CreateDish(context.Background(), catalog.NewDish{Name: name})
	if err != nil {
		t.Fatalf("CreateDish: %v", err)
	}
	d, err = svc.UpdateDish(context.Background(), d.ID, catalog.DishUpdate{Name: name, Description: desc})
	if err != nil {
		t.Fatalf("UpdateDish: %v", err)
	}
	return d
}

func TestHealth_NoAuth(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodGet, "/dishes", "", tt.token))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestBearerAuth_Header(t *testing.T) {
	h := BearerAuth("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		header string
		want   int
	}{
		{"Bearer s3cret", http.StatusNoContent},
		{"bearer s3cret", http.StatusNoContent},
		{"Basic s3cret", http.StatusUnauthorized},
		{"Bearer", http.StatusUnauthorized},
		{"Bearer s3cret-not", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/dishes", nil)
		req.Header.Set("Authorization", tt.header)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tt.want {
			t.Errorf("%q: status = %d, want %d", tt.header, rr.Code, tt.want)
		}
		if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("%q: missing WWW-Authenticate", tt.header)
		}
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	h, _, _ := setupAppHandler(t, "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/dishes", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestCreateDish_WithImageQueuesAnalysis(t *testing.T) {
	h, _, store := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartReq(t, map[string]string{"favorite": "true", "user_notes": "jantar de domingo"}, pngBytes))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	v := decode[DishView](t, rr)
	msgs := locale.For(locale.PtBR)
	if v.Name != msgs.Placeholder || v.Description != msgs.Analyzing {
		t.Errorf("dish = %q / %q, want placeholders", v.Name, v.Description)
	}
	if !v.Favorite || !v.HasImage || v.UserNotes != "jantar de domingo" {
		t.Errorf("dish = %+v", v)
	}

	job, err := store.ClaimNextJob([]string{"analyze_dish"})
	if err != nil || job == nil {
		t.Fatalf("no analyze_dish job queued: %v", err)
	}
	if job.PayloadJSON != fmt.Sprintf(`{"dish_id":%d}`, v.ID) {
		t.Errorf("payload = %s", job.PayloadJSON)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, fmt.Sprintf("/dishes/%d/image", v.ID), "", testToken))
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("image status = %d, type = %q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !bytes.Equal(rr.Body.Bytes(), pngBytes) {
		t.Error("image bytes differ")
	}
}

func TestCreateDish_Validation(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	tests := []struct {
		name   string
		fields map[string]string
		image  []byte
		want   int
	}{
		{"nothing", map[string]string{}, nil, http.StatusBadRequest},
		{"bad owner", map[string]string{"name": "x", "owner_id": "abc"}, nil, http.StatusBadRequest},
		{"unknown owner", map[string]string{"name": "x", "owner_id": "99"}, nil, http.StatusNotFound},
		{"bad favorite", map[string]string{"name": "x", "favorite": "maybe"}, nil, http.StatusBadRequest},
		{"not an image", map[string]string{}, []byte("just some text"), http.StatusBadRequest},
		{"name only", map[string]string{"name": "Feijoada"}, nil, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, multipartReq(t, tt.fields, tt.image))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestCreateDish_NotMultipart(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/dishes", `{"name":"x"}`, testToken)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestListDishes_SearchAndFilters(t *testing.T) {
	h, svc, _ := setupAppHandler(t, testToken)
	seedDish(t, svc, "Moqueca", "Ensopado de peixe com leite de coco")
	fav := seedDish(t, svc, "Pão de queijo", "Queijo minas assado")
	if _, err := svc.ToggleFavorite(context.Background(), fav.ID); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/dishes", "", testToken))
	all := decode[[]DishView](t, rr)
	if len(all) != 2 || all[0].ID != fav.ID {
		t.Fatalf("list = %+v, want newest first", all)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/dishes?search=peixe", "", testToken))
	hits := decode[[]DishView](t, rr)
	if len(hits) != 1 || hits[0].Name != "Moqueca" {
		t.Fatalf("search = %+v", hits)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/dishes?search=queijo&favorites=true", "", testToken))
	hits = decode[[]DishView](t, rr)
	if len(hits) != 1 || hits[0].ID != fav.ID {
		t.Fatalf("favorites search = %+v", hits)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, `/dishes?search=%22%28%2A`, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("malformed query status = %d", rr.Code)
	}
	if hits := decode[[]DishView](t, rr); len(hits) != 0 {
		t.Errorf("malformed query returned %d hits", len(hits))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/dishes?owner_id=-3", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad owner_id status = %d", rr.Code)
	}
}

func TestGetPatchDeleteDish(t *testing.T) {
	h, svc, _ := setupAppHandler(t, testToken)
	d := seedDish(t, svc, "Coxinha", "Salgado de frango")
	path := fmt.Sprintf("/dishes/%d", d.ID)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, path, "", testToken))
	if got := decode[DishView](t, rr); got.Name != "Coxinha" {
		t.Fatalf("get = %+v", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, path, `{"user_notes":"da padaria","dish_type":"salgado"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", rr.Code, rr.Body.String())
	}
	got := decode[DishView](t, rr)
	if got.Name != "Coxinha" || got.Description != "Salgado de frango" || got.UserNotes != "da padaria" || got.DishType != "salgado" {
		t.Errorf("patch = %+v, want untouched fields kept", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, path, `{"name":"  "}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, path+"/favorite", "", testToken))
	if got := decode[DishView](t, rr); !got.Favorite {
		t.Error("favorite not toggled")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, path, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, path, "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/dishes/zero", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rr.Code)
	}
}

func TestAnalyzeDish(t *testing.T) {
	h, _, store := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartReq(t, map[string]string{"name": "Acarajé"}, pngBytes))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rr.Code, rr.Body.String())
	}
	d := decode[DishView](t, rr)
	if _, err := store.ClaimNextJob([]string{"analyze_dish"}); err != nil {
		t.Fatalf("draining create job: %v", err)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, fmt.Sprintf("/dishes/%d/analyze", d.ID), "", testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[map[string]string](t, rr)
	job, err := store.ClaimNextJob([]string{"analyze_dish"})
	if err != nil || job == nil || job.ID != resp["job_id"] {
		t.Fatalf("job = %+v, err = %v, resp = %v", job, err, resp)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/dishes/999/analyze", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown dish status = %d", rr.Code)
	}
}

func TestAnalyzeDish_WithoutPhoto(t *testing.T) {
	h, svc, store := setupAppHandler(t, testToken)
	d := seedDish(t, svc, "Lasanha da nonna", "Receita de família")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, fmt.Sprintf("/dishes/%d/analyze", d.ID), "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if job, _ := store.ClaimNextJob([]string{"analyze_dish"}); job != nil {
		t.Errorf("job queued for dish without photo: %+v", job)
	}
	got, _ := svc.GetDish(d.ID)
	if got.Description != "Receita de família" {
		t.Errorf("description = %q, want owner text kept", got.Description)
	}
}

func TestOwnersAndProfileRefresh(t *testing.T) {
	h, _, store := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/owners", `{"name":"Ana","email":"ana@example.com"}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create owner status = %d, body = %s", rr.Code, rr.Body.String())
	}
	o := decode[OwnerView](t, rr)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, fmt.Sprintf("/owners/%d", o.ID), "", testToken))
	if got := decode[OwnerView](t, rr); got.Name != "Ana" {
		t.Errorf("owner = %+v", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/owners", `{"name":""}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("blank owner status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/profiles/refresh", fmt.Sprintf(`{"owner_id":%d}`, o.ID), testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("refresh status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/profiles/refresh", "", testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("refresh all status = %d, body = %s", rr.Code, rr.Body.String())
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/profiles/refresh", `{"owner_id":404}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("refresh unknown owner status = %d", rr.Code)
	}

	job, err := store.ClaimNextJob([]string{"refresh_profiles"})
	if err != nil || job == nil {
		t.Fatalf("no refresh job: %v", err)
	}
}

func TestRebuildAndStats(t *testing.T) {
	h, svc, _ := setupAppHandler(t, testToken)
	seedDish(t, svc, "Brigadeiro", "Doce de chocolate")
	seedDish(t, svc, "Quindim", "Doce de coco")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/search/rebuild", "", testToken))
	if got := decode[map[string]int](t, rr); got["indexed"] != 2 {
		t.Errorf("rebuild = %v", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/stats", "", testToken))
	st := decode[StatsView](t, rr)
	if st.Dishes != 2 || st.IndexedRows != 2 {
		t.Errorf("stats = %+v", st)
	}
}
