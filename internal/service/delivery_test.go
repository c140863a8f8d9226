package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mmeshcher/craftmarket-system/internal/model"
	"github.com/mmeshcher/craftmarket-system/internal/repository"
)

func int64Ptr(v int64) *int64 { return &v }

func TestAutoDeliver_DigitalFiles(t *testing.T) {
	repo := newFakeRepo()
	addProduct(repo, model.Product{
		ID:       "p1",
		SellerID: "s1",
		Title:    "E-book",
		DigitalFiles: []model.DigitalFile{
			{Name: "ebook.pdf", URL: "https://x/e.pdf", Size: int64Ptr(1024)},
		},
	})
	addOrder(repo, model.Order{ID: "o1", BuyerID: "b1", SellerID: "s1", ProductID: "p1", Status: model.OrderStatusPending})
	svc := NewService(repo, nil, nil)

	delivered, artifacts, err := svc.AutoDeliver(context.Background(), "o1", "p1")
	if err != nil {
		t.Fatalf("AutoDeliver error: %v", err)
	}
	if !delivered {
		t.Fatalf("delivered = false, want true")
	}
	if len(artifacts) != 1 || artifacts[0] != ArtifactDigitalFiles {
		t.Fatalf("artifacts = %v, want [%s]", artifacts, ArtifactDigitalFiles)
	}

	if len(repo.deliverables) != 1 {
		t.Fatalf("deliverables = %d, want 1", len(repo.deliverables))
	}
	d := repo.deliverables[0]
	if d.Description != AutoDeliveryMarker {
		t.Fatalf("description = %q, want marker %q", d.Description, AutoDeliveryMarker)
	}
	if d.FileName != "ebook.pdf" || d.FileURL != "https://x/e.pdf" {
		t.Fatalf("unexpected deliverable: %+v", d)
	}
	if d.UploadedBy != "s1" {
		t.Fatalf("uploaded_by = %q, want product seller", d.UploadedBy)
	}
}

func TestAutoDeliver_UnnamedFileGetsDefaultName(t *testing.T) {
	repo := newFakeRepo()
	addProduct(repo, model.Product{
		ID:       "p1",
		SellerID: "s1",
		DigitalFiles: []model.DigitalFile{
			{URL: "https://x/file"},
		},
	})
	addOrder(repo, model.Order{ID: "o1", ProductID: "p1", Status: model.OrderStatusPending})
	svc := NewService(repo, nil, nil)

	if _, _, err := svc.AutoDeliver(context.Background(), "o1", "p1"); err != nil {
		t.Fatalf("AutoDeliver error: %v", err)
	}
	if repo.deliverables[0].FileName != "Digital download" {
		t.Fatalf("file name = %q, want default", repo.deliverables[0].FileName)
	}
}

func TestAutoDeliver_CoursePayload(t *testing.T) {
	repo := newFakeRepo()
	addProduct(repo, model.Product{
		ID:          "p1",
		SellerID:    "s1",
		Title:       "Go Course",
		CourseLinks: []string{"https://course/1"},
	})
	addOrder(repo, model.Order{ID: "o1", ProductID: "p1", Status: model.OrderStatusPending})
	svc := NewService(repo, nil, nil)

	delivered, artifacts, err := svc.AutoDeliver(context.Background(), "o1", "p1")
	if err != nil {
		t.Fatalf("AutoDeliver error: %v", err)
	}
	if !delivered {
		t.Fatalf("delivered = false, want true")
	}
	if len(artifacts) != 1 || artifacts[0] != ArtifactCourseInfo {
		t.Fatalf("artifacts = %v, want [%s]", artifacts, ArtifactCourseInfo)
	}

	msgs := repo.messagesForOrder("o1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if !msgs[0].IsSystemMessage {
		t.Fatalf("course message must be system")
	}
	if msgs[0].SenderID != "s1" {
		t.Fatalf("sender = %q, want product seller", msgs[0].SenderID)
	}
	if !strings.HasPrefix(strings.ToLower(msgs[0].Message), "course access") {
		t.Fatalf("message %q must start with course access prefix", msgs[0].Message)
	}
	if !strings.Contains(msgs[0].Message, "https://course/1") {
		t.Fatalf("message %q must contain course link", msgs[0].Message)
	}
}

func TestAutoDeliver_NotEligible(t *testing.T) {
	repo := newFakeRepo()
	addProduct(repo, model.Product{ID: "p1", SellerID: "s1", Title: "Manual gig"})
	addOrder(repo, model.Order{ID: "o1", ProductID: "p1", Status: model.OrderStatusPending})
	svc := NewService(repo, nil, nil)

	delivered, artifacts, err := svc.AutoDeliver(context.Background(), "o1", "p1")
	if err != nil {
		t.Fatalf("AutoDeliver error: %v", err)
	}
	if delivered {
		t.Fatalf("delivered = true, want false for ineligible product")
	}
	if len(artifacts) != 0 {
		t.Fatalf("artifacts = %v, want empty", artifacts)
	}
	if len(repo.deliverables) != 0 || len(repo.messages) != 0 {
		t.Fatalf("no rows must be created for ineligible product")
	}
}

func TestAutoDeliver_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	addProduct(repo, model.Product{
		ID:       "p1",
		SellerID: "s1",
		Title:    "Bundle",
		DigitalFiles: []model.DigitalFile{
			{Name: "a.zip", URL: "https://x/a.zip"},
			{Name: "b.zip", URL: "https://x/b.zip"},
		},
		CourseLinks: []string{"https://course/1"},
	})
	addOrder(repo, model.Order{ID: "o1", ProductID: "p1", Status: model.OrderStatusPending})
	svc := NewService(repo, nil, nil)

	delivered, artifacts, err := svc.AutoDeliver(context.Background(), "o1", "p1")
	if err != nil {
		t.Fatalf("first call error: %v", err)
	}
	if !delivered || len(artifacts) != 2 {
		t.Fatalf("first call: delivered=%v artifacts=%v", delivered, artifacts)
	}

	delivered, artifacts, err = svc.AutoDeliver(context.Background(), "o1", "p1")
	if err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if !delivered {
		t.Fatalf("second call delivered = false, want true")
	}
	if len(artifacts) != 0 {
		t.Fatalf("second call artifacts = %v, want empty", artifacts)
	}

	if len(repo.deliverables) != 2 {
		t.Fatalf("deliverables = %d, want 2 (no duplicates)", len(repo.deliverables))
	}
	if len(repo.messagesForOrder("o1")) != 1 {
		t.Fatalf("messages = %d, want 1 (no duplicates)", len(repo.messagesForOrder("o1")))
	}
}

func TestAutoDeliver_MissingArguments(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil)

	_, _, err := svc.AutoDeliver(context.Background(), "", "p1")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	_, _, err = svc.AutoDeliver(context.Background(), "o1", "")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAutoDeliver_ProductMismatch(t *testing.T) {
	repo := newFakeRepo()
	addProduct(repo, model.Product{ID: "p1", SellerID: "s1"})
	addProduct(repo, model.Product{ID: "p2", SellerID: "s1"})
	addOrder(repo, model.Order{ID: "o1", ProductID: "p1", Status: model.OrderStatusPending})
	svc := NewService(repo, nil, nil)

	_, _, err := svc.AutoDeliver(context.Background(), "o1", "p2")
	if !errors.Is(err, ErrProductMismatch) {
		t.Fatalf("expected ErrProductMismatch, got %v", err)
	}
}

func TestAutoDeliver_NotFound(t *testing.T) {
	repo := newFakeRepo()
	addProduct(repo, model.Product{ID: "p1", SellerID: "s1"})
	svc := NewService(repo, nil, nil)

	_, _, err := svc.AutoDeliver(context.Background(), "missing", "p1")
	if !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	addOrder(repo, model.Order{ID: "o1", ProductID: "p-gone", Status: model.OrderStatusPending})
	_, _, err = svc.AutoDeliver(context.Background(), "o1", "p-gone")
	if !errors.Is(err, repository.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestAutoDeliver_StorageErrorPropagates(t *testing.T) {
	repo := newFakeRepo()
	addProduct(repo, model.Product{
		ID:           "p1",
		SellerID:     "s1",
		DigitalFiles: []model.DigitalFile{{Name: "a.zip", URL: "https://x/a.zip"}},
	})
	addOrder(repo, model.Order{ID: "o1", ProductID: "p1", Status: model.OrderStatusPending})
	repo.deliverableErr = errors.New("connection refused")
	svc := NewService(repo, nil, nil)

	_, _, err := svc.AutoDeliver(context.Background(), "o1", "p1")
	if err == nil {
		t.Fatalf("expected storage error to propagate")
	}
}

func TestBuildCourseMessage_OmitsEmptySections(t *testing.T) {
	msg := buildCourseMessage(&model.Product{
		Title:       "Go Course",
		CourseLinks: []string{"https://course/1", "https://course/2"},
	})

	if strings.Contains(msg, "Access codes") {
		t.Fatalf("empty passkeys section must be omitted: %q", msg)
	}
	if !strings.Contains(msg, "- https://course/1") || !strings.Contains(msg, "- https://course/2") {
		t.Fatalf("links must be listed: %q", msg)
	}

	full := buildCourseMessage(&model.Product{
		Title:          "Go Course",
		CourseLinks:    []string{"https://course/1"},
		CoursePasskeys: []string{"KEY-1"},
		CourseNotes:    "  welcome aboard  ",
	})
	if !strings.Contains(full, "Access codes") || !strings.Contains(full, "- KEY-1") {
		t.Fatalf("passkeys must be listed: %q", full)
	}
	if !strings.Contains(full, "welcome aboard") {
		t.Fatalf("notes must be included trimmed: %q", full)
	}
}
