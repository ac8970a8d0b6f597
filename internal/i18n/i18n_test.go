package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Hybrid Examiner" {
		t.Errorf("T(AppTitle) = %q, want 'Hybrid Examiner'", got)
	}
	if got := T(ctx, "StartExam"); got != "Start Exam" {
		t.Errorf("T(StartExam) = %q, want 'Start Exam'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "StartExam"); got != "Начать экзамен" {
		t.Errorf("T(StartExam) = %q, want 'Начать экзамен'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "AnswersGiven", 1); got != "1 answer given." {
		t.Errorf("Tp(AnswersGiven, 1) = %q", got)
	}
	if got := Tp(ctx, "AnswersGiven", 5); got != "5 answers given." {
		t.Errorf("Tp(AnswersGiven, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "AnswerOf", map[string]any{"N": 2, "Max": 5})
	if got != "Answer 2 of at most 5" {
		t.Errorf("Td(AnswerOf) = %q, want 'Answer 2 of at most 5'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareHonorsAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "StartExam")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Начать экзамен" {
		t.Errorf("Accept-Language ru: got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/?lang=en", nil)
	req.Header.Set("Accept-Language", "ru")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Start Exam" {
		t.Errorf("lang=en override: got %q", got)
	}
}
