package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// TextWriter writes a plain-text summary. With Out set the report goes to
// Out and no file is created.
type TextWriter struct {
	Dir string
	Out io.Writer
}

// Write implements Writer.
func (w TextWriter) Write(ctx context.Context, r Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if w.Out != nil {
		return "", Render(w.Out, r)
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", eris.Wrap(err, "report: create dir")
	}
	path := filepath.Join(w.Dir, r.FileStem()+".txt")
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "report: create %s", path)
	}
	if err := Render(f, r); err != nil {
		f.Close() //nolint:errcheck
		return "", err
	}
	return path, eris.Wrapf(f.Close(), "report: close %s", path)
}

// Render writes the text form of r to out.
func Render(out io.Writer, r Report) error {
	name := r.CountryName
	if name == "" {
		name = r.Country
	}
	fmt.Fprintf(out, "%s bankruptcy report, %s\n", name, r.Period())
	if len(r.Records) == 0 {
		status := r.Status
		if status == "" {
			status = model.RunStatusNoRecords
		}
		fmt.Fprintf(out, "No records: %s\n", status.Message())
		return nil
	}

	counts := TierCounts(r.Records)
	fmt.Fprintf(out, "%d records (HIGH %d, MEDIUM %d, LOW %d, unscored %d)\n\n",
		len(r.Records), counts[model.TierHigh], counts[model.TierMedium], counts[model.TierLow], counts[model.TierNone])

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tSCORE\tCOMPANY\tORG NUMBER\tFILED\tINDUSTRY\tTRUSTEE\tEMAIL")
	for _, rec := range r.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Tier, optInt(rec.Score), rec.CompanyName, rec.OrgNumber,
			rec.FilingDate.Format(model.DateLayout), rec.IndustryCode,
			rec.TrusteeName, rec.TrusteeEmail,
		)
	}
	return eris.Wrap(tw.Flush(), "report: flush")
}

// NewWriter returns the writer for format ("xlsx" or "text").
func NewWriter(format, dir string) (Writer, error) {
	switch format {
	case "", "xlsx":
		return XLSXWriter{Dir: dir}, nil
	case "text", "txt":
		return TextWriter{Dir: dir}, nil
	default:
		return nil, eris.Errorf("report: unknown format %q", format)
	}
}
