// Package handlers provides the JSON API handlers for plexbridge.
package handlers

import (
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
)

// ProgramResponse is the JSON shape of a guide program.
type ProgramResponse struct {
	ProgramKey    string    `json:"program_key" doc:"Natural key {channel_key}|{start}"`
	ChannelKey    string    `json:"channel_key"`
	Start         time.Time `json:"start"`
	Stop          time.Time `json:"stop"`
	Title         string    `json:"title"`
	SubTitle      string    `json:"sub_title,omitempty"`
	Description   string    `json:"description,omitempty"`
	Category      string    `json:"category,omitempty"`
	SecondaryCat  string    `json:"secondary_category,omitempty"`
	Keywords      []string  `json:"keywords,omitempty"`
	Year          int       `json:"year,omitempty"`
	IconURL       string    `json:"icon_url,omitempty"`
	SeasonNumber  *int      `json:"season_number,omitempty"`
	EpisodeNumber *int      `json:"episode_number,omitempty"`
	SeriesID      string    `json:"series_id,omitempty"`
	Rating        string    `json:"rating,omitempty"`
	HD            bool      `json:"hd,omitempty"`
	Live          bool      `json:"live,omitempty"`
	NewEpisode    bool      `json:"new_episode,omitempty"`
	Premiere      bool      `json:"premiere,omitempty"`
}

// ProgramFromModel converts a stored program to its API shape.
func ProgramFromModel(p *models.EpgProgram) ProgramResponse {
	return ProgramResponse{
		ProgramKey:    p.ProgramKey(),
		ChannelKey:    p.ChannelKey,
		Start:         p.Start,
		Stop:          p.Stop,
		Title:         p.Title,
		SubTitle:      p.SubTitle,
		Description:   p.Description,
		Category:      p.Category,
		SecondaryCat:  p.SecondaryCategory,
		Keywords:      p.KeywordList(),
		Year:          p.Year,
		IconURL:       p.IconURL,
		SeasonNumber:  p.SeasonNumber,
		EpisodeNumber: p.EpisodeNumber,
		SeriesID:      p.SeriesID,
		Rating:        p.Rating,
		HD:            p.HD,
		Live:          p.Live,
		NewEpisode:    p.NewEpisode,
		Premiere:      p.Premiere,
	}
}

// ProgramsFromModels converts a list of programs.
func ProgramsFromModels(programs []*models.EpgProgram) []ProgramResponse {
	out := make([]ProgramResponse, 0, len(programs))
	for _, p := range programs {
		out = append(out, ProgramFromModel(p))
	}
	return out
}

// EpgSourceResponse is the JSON shape of an EPG source.
type EpgSourceResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	RefreshInterval string     `json:"refresh_interval"`
	Enabled         bool       `json:"enabled"`
	Category        string     `json:"category,omitempty"`
	SecondaryGenres []string   `json:"secondary_genres,omitempty"`
	LastRefresh     *time.Time `json:"last_refresh,omitempty"`
	LastSuccess     *time.Time `json:"last_success,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EpgSourceFromModel converts a stored source to its API shape.
func EpgSourceFromModel(s *models.EpgSource) EpgSourceResponse {
	return EpgSourceResponse{
		ID:              s.ID.String(),
		Name:            s.Name,
		URL:             s.URL,
		RefreshInterval: s.RefreshInterval,
		Enabled:         s.IsEnabled(),
		Category:        s.Category,
		SecondaryGenres: s.SecondaryGenreList(),
		LastRefresh:     s.LastRefresh,
		LastSuccess:     s.LastSuccess,
		LastError:       s.LastError,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
