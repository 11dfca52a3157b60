package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/mcdev12/qrhit/go/internal/models"
	"gopkg.in/yaml.v3"
)

type fileTrack struct {
	ContentID int64  `yaml:"content_id"`
	Artist    string `yaml:"artist"`
	Title     string `yaml:"title"`
	Year      *int   `yaml:"year"`
}

type fileChannel struct {
	ID     int64       `yaml:"id"`
	Tracks []fileTrack `yaml:"tracks"`
}

type fileDocument struct {
	Channels []fileChannel `yaml:"channels"`
}

// FileCatalog serves tracks loaded from a YAML document, for local
// development without a database.
type FileCatalog struct {
	tracks map[int64]map[int64]models.Track
}

// NewFileCatalog builds a catalog from tracks grouped by channel.
func NewFileCatalog(channels map[int64][]models.Track) *FileCatalog {
	c := &FileCatalog{tracks: make(map[int64]map[int64]models.Track, len(channels))}
	for channelID, tracks := range channels {
		for _, t := range tracks {
			c.add(channelID, t)
		}
	}
	return c
}

// LoadFileCatalog reads a YAML catalog from path.
func LoadFileCatalog(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseFileCatalog(data)
}

// ParseFileCatalog decodes a YAML catalog document.
func ParseFileCatalog(data []byte) (*FileCatalog, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &FileCatalog{tracks: make(map[int64]map[int64]models.Track)}
	for _, ch := range doc.Channels {
		for _, t := range ch.Tracks {
			if t.Artist == "" || t.Title == "" {
				return nil, fmt.Errorf("channel %d content %d: artist and title are required", ch.ID, t.ContentID)
			}
			c.add(ch.ID, models.Track{ContentID: t.ContentID, Artist: t.Artist, Title: t.Title, Year: t.Year})
		}
	}
	return c, nil
}

func (c *FileCatalog) add(channelID int64, t models.Track) {
	if c.tracks[channelID] == nil {
		c.tracks[channelID] = make(map[int64]models.Track)
	}
	c.tracks[channelID][t.ContentID] = t
}

// Track returns the track behind a card.
func (c *FileCatalog) Track(_ context.Context, channelID, contentID int64) (*models.Track, error) {
	t, ok := c.tracks[channelID][contentID]
	if !ok {
		return nil, ErrTrackNotFound
	}
	return &t, nil
}
