// package formatter renders playlist exports as CSV, JSON, Markdown or plain text
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/shared"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "txt"
)

// Formats lists every supported format, in help-text order.
var Formats = []Format{FormatCSV, FormatJSON, FormatMarkdown, FormatText}

// FormatList joins [Formats] for flag usage text.
func FormatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// ParseFormat accepts a format name or a common alias ("md", "text").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// CSVHeader is the header row of [ExportToCSV].
var CSVHeader = []string{"Song Name", "Artists", "Album Name", "Album Release Date"}

// ExportToCSV writes one ';' separated row per track, artists joined by ','.
func ExportToCSV(export *models.PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.Comma = ';'

	if err := writer.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range export.Tracks {
		record := []string{
			track.Title,
			track.ArtistNames(","),
			track.Album,
			track.ReleaseDate,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportToJSON encodes the full export, tracks included.
func ExportToJSON(export *models.PlaylistExport) ([]byte, error) {
	return shared.MarshalJSON(export, true)
}

func trackDuration(t models.Track) string {
	return shared.FormatDuration(time.Duration(t.Duration) * time.Second)
}

// ExportToMarkdown renders a README style page, linking imageFilename as the cover when set.
func ExportToMarkdown(export *models.PlaylistExport, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", export.Playlist.Name)
	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}
	if export.Playlist.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", export.Playlist.Description)
	}
	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(export.Tracks))
	fmt.Fprintf(&buf, "**Visibility**: %s\n\n", shared.VisibilityString(export.Playlist.Public))

	buf.WriteString("## Tracks\n\n")
	buf.WriteString("| # | Title | Artists | Album | Length | ISRC |\n")
	buf.WriteString("|---|-------|---------|-------|--------|------|\n")
	for i, track := range export.Tracks {
		fmt.Fprintf(&buf, "| %d | %s | %s | %s | %s | %s |\n",
			i+1,
			escapeCell(track.Title),
			escapeCell(track.ArtistNames(", ")),
			escapeCell(track.Album),
			trackDuration(track),
			track.ISRC,
		)
	}
	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// ExportToText renders a numbered "Artist - Title" list.
func ExportToText(export *models.PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", export.Playlist.Name)
	if export.Playlist.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", export.Playlist.Description)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Tracks))

	for i, track := range export.Tracks {
		fmt.Fprintf(&buf, "%d. %s - %s [%s]\n", i+1, track.ArtistNames(", "), track.Title, trackDuration(track))
	}
	return buf.Bytes(), nil
}

// ToMetadataJSON encodes playlist metadata without tracks.
func ToMetadataJSON(playlist models.Playlist) ([]byte, error) {
	return shared.MarshalJSON(playlist, true)
}

// DownloadImage fetches url with client, or a 30s-timeout client when nil.
func DownloadImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty image URL", shared.ErrInvalidArgument)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return data, nil
}

// WriteOptions controls [Write].
type WriteOptions struct {
	Format    Format
	OutputDir string
	// Markdown exports download the cover into the playlist directory when set.
	CoverImage bool
	HTTPClient *http.Client
	Warn       func(msg string, kv ...any)
}

// Write renders export into opts.OutputDir and returns the files it created.
//
// Layout per format, keyed by playlist ID:
//
//	csv       {id}_tracks.csv + {id}_metadata.json
//	json      {id}.json
//	markdown  {id}/README.md (+ {id}/cover.jpg)
//	txt       {id}_tracks.txt
func Write(ctx context.Context, export *models.PlaylistExport, opts WriteOptions) ([]string, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Warn == nil {
		opts.Warn = func(string, ...any) {}
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	base := filepath.Join(opts.OutputDir, export.Playlist.ID)

	switch opts.Format {
	case FormatCSV:
		data, err := ExportToCSV(export)
		if err != nil {
			return nil, err
		}
		meta, err := ToMetadataJSON(export.Playlist)
		if err != nil {
			return nil, err
		}
		return writeFiles(outFile{base + "_tracks.csv", data}, outFile{base + "_metadata.json", meta})

	case FormatMarkdown:
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		var files []string
		var cover string
		if opts.CoverImage && export.Playlist.ImageURL != "" {
			img, err := DownloadImage(ctx, opts.HTTPClient, export.Playlist.ImageURL)
			if err != nil {
				opts.Warn("skipping cover image", "playlist", export.Playlist.ID, "error", err)
			} else if err := os.WriteFile(filepath.Join(base, "cover.jpg"), img, 0o644); err != nil {
				opts.Warn("failed to save cover image", "playlist", export.Playlist.ID, "error", err)
			} else {
				cover = "cover.jpg"
				files = append(files, filepath.Join(base, cover))
			}
		}

		data, err := ExportToMarkdown(export, cover)
		if err != nil {
			return nil, err
		}
		readme := filepath.Join(base, "README.md")
		written, err := writeFiles(outFile{readme, data})
		if err != nil {
			return nil, err
		}
		return append(files, written...), nil

	case FormatText:
		data, err := ExportToText(export)
		if err != nil {
			return nil, err
		}
		return writeFiles(outFile{base + "_tracks.txt", data})

	case FormatJSON, "":
		data, err := ExportToJSON(export)
		if err != nil {
			return nil, err
		}
		return writeFiles(outFile{base + ".json", data})

	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, opts.Format)
	}
}

type outFile struct {
	path string
	data []byte
}

func writeFiles(files ...outFile) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		written = append(written, f.path)
	}
	return written, nil
}
