package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/opensource-finance/rfm/internal/domain"
)

// fingerprintInput is every setting that can change a report's rows.
type fingerprintInput struct {
	Window        domain.WindowConfig     `json:"window"`
	ReferenceDate string                  `json:"referenceDate"`
	QuantileCount int                     `json:"quantileCount"`
	Rules         []domain.SegmentRule    `json:"rules"`
	Validation    domain.ValidationConfig `json:"validation"`
	Format        string                  `json:"format"`
	Sheets        []string                `json:"sheets"`
	Delimiter     string                  `json:"delimiter"`
	Encoding      string                  `json:"encoding"`
	Columns       domain.ColumnMapping    `json:"columns"`
}

// Fingerprint hashes the analysis settings together with the bytes of
// every input file. File locations are not part of it, so a copy of the
// same extract hits the cache. SQL sources return "" since the table can
// change under the same query; their reports are never served from cache.
func Fingerprint(cfg *domain.Config, rules []domain.SegmentRule, src domain.SourceConfig) (string, error) {
	if src.Format == "sql" {
		return "", nil
	}

	h := sha256.New()
	settings, err := json.Marshal(fingerprintInput{
		Window:        cfg.AnalysisWindow,
		ReferenceDate: cfg.ReferenceDate,
		QuantileCount: cfg.QuantileCount,
		Rules:         rules,
		Validation:    cfg.Validation,
		Format:        src.Format,
		Sheets:        src.Sheets,
		Delimiter:     src.Delimiter,
		Encoding:      src.Encoding,
		Columns:       src.Columns,
	})
	if err != nil {
		return "", eris.Wrap(err, "failed to encode fingerprint settings")
	}
	h.Write(settings)

	for _, path := range src.Paths {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(domain.ErrInvalidInput, "open %s: %v", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "stat %s", path)
	}
	// length prefix keeps ["ab","c"] and ["a","bc"] apart
	if _, err := fmt.Fprintf(w, "%d:", info.Size()); err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	return nil
}
