package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Rensir56/SegTool-for-Jade/errors"
)

// PDFPages renders document pages to PNG with pdftoppm. Rendered pages are
// kept in Dir as {name}-page-{n}.png and reused.
type PDFPages struct {
	Dir     string // directory holding the uploaded documents
	Command string // renderer binary, pdftoppm when empty
}

// PageImage implements PageSource.
func (p PDFPages) PageImage(ctx context.Context, filename string, page int) (string, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return "", errors.WrapInvalid(fmt.Errorf("bad document name %q", filename), "PDFPages", "PageImage", "resolve document")
	}
	pdfPath := filepath.Join(p.Dir, filename)
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	out := filepath.Join(p.Dir, base+"-page-"+strconv.Itoa(page))
	image := out + ".png"

	if _, err := os.Stat(image); err == nil {
		return image, nil
	}
	if _, err := os.Stat(pdfPath); err != nil {
		return "", errors.WrapInvalid(err, "PDFPages", "PageImage", "open document")
	}

	cmdName := p.Command
	if cmdName == "" {
		cmdName = "pdftoppm"
	}
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, cmdName, "-png", "-f", n, "-l", n, "-singlefile", pdfPath, out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.WrapTransient(fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
			"PDFPages", "PageImage", "render page "+n)
	}
	if _, err := os.Stat(image); err != nil {
		return "", errors.WrapTransient(err, "PDFPages", "PageImage", "locate rendered page")
	}
	return image, nil
}
