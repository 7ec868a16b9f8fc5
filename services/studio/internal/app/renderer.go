package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"fablepress/pkg/domain"
	"fablepress/pkg/pagefit"
)

// Renderer produces local print-ready PDFs for a finished project. The
// interior is rendered before reconciliation; the cover after, because the
// spread is sized from the reconciled interior page count.
type Renderer interface {
	RenderInterior(ctx context.Context, p domain.Project, units []domain.Unit) (string, error)
	RenderCover(ctx context.Context, p domain.Project, spread pagefit.CoverSpread) (string, error)
}

// pictureRenderer assembles a picture book straight from its generated page
// images.
type pictureRenderer struct {
	workDir string
}

func newPictureRenderer(workDir string) *pictureRenderer {
	return &pictureRenderer{workDir: workDir}
}

func (r *pictureRenderer) RenderInterior(_ context.Context, p domain.Project, units []domain.Unit) (string, error) {
	files := make([]string, 0, len(units))
	for _, u := range units {
		path := pageImagePath(r.workDir, p.ID, u.Seq)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("page %d image missing: %w", u.Seq, err)
		}
		files = append(files, path)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no pages to render")
	}
	out := filepath.Join(projectWorkDir(r.workDir, p.ID), "interior-raw.pdf")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	if err := api.ImportImagesFile(files, out, nil, nil); err != nil {
		return "", fmt.Errorf("import page images: %w", err)
	}
	return out, nil
}

func (r *pictureRenderer) RenderCover(_ context.Context, p domain.Project, _ pagefit.CoverSpread) (string, error) {
	// The cover artwork reuses the first page illustration as its base.
	front := pageImagePath(r.workDir, p.ID, 1)
	if _, err := os.Stat(front); err != nil {
		return "", fmt.Errorf("cover base image missing: %w", err)
	}
	out := filepath.Join(projectWorkDir(r.workDir, p.ID), "cover.pdf")
	if err := api.ImportImagesFile([]string{front}, out, nil, nil); err != nil {
		return "", fmt.Errorf("import cover image: %w", err)
	}
	return out, nil
}

// typesetClient renders text interiors through the external typesetting
// service.
type typesetClient struct {
	baseURL    string
	workDir    string
	httpClient *http.Client
}

func newTypesetClient(baseURL, workDir string) *typesetClient {
	return &typesetClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		workDir:    workDir,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type typesetChapter struct {
	Seq     int    `json:"seq"`
	Content string `json:"content"`
}

func (c *typesetClient) RenderInterior(ctx context.Context, p domain.Project, units []domain.Unit) (string, error) {
	chapters := make([]typesetChapter, 0, len(units))
	for _, u := range units {
		chapters = append(chapters, typesetChapter{Seq: u.Seq, Content: u.Content})
	}
	payload := map[string]any{
		"title":    p.Title,
		"chapters": chapters,
	}
	out := filepath.Join(projectWorkDir(c.workDir, p.ID), "interior-raw.pdf")
	if err := c.renderTo(ctx, "/render/interior", payload, out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *typesetClient) RenderCover(ctx context.Context, p domain.Project, spread pagefit.CoverSpread) (string, error) {
	payload := map[string]any{
		"title":    p.Title,
		"widthPt":  spread.WidthPt,
		"heightPt": spread.HeightPt,
		"spinePt":  spread.SpinePt,
	}
	out := filepath.Join(projectWorkDir(c.workDir, p.ID), "cover.pdf")
	if err := c.renderTo(ctx, "/render/cover", payload, out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *typesetClient) renderTo(ctx context.Context, path string, payload any, out string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("typeset request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("typeset error: %s", msg)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write rendered pdf: %w", err)
	}
	return nil
}

func projectWorkDir(workDir, projectID string) string {
	return filepath.Join(workDir, projectID)
}

func pageImagePath(workDir, projectID string, seq int) string {
	return filepath.Join(projectWorkDir(workDir, projectID), "pages", fmt.Sprintf("%03d.png", seq))
}
