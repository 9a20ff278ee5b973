package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/repository"
)

var deliveryTemplate = template.Must(template.New("delivery").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>{{if .Recipient}}Your song for {{.Recipient}} is ready{{else}}Your song is ready{{end}}</h2>
<p>Thank you for your order. Listen and share:</p>
<ul>
{{range .Links}}<li><a href="{{.URL}}">{{if .Title}}{{.Title}}{{else}}Song {{inc .SongIndex}}, version {{.VariationID}}{{end}}</a></li>
{{end}}</ul>
</body></html>`))

// DeliveryService builds share links for a paid form and emails them.
type DeliveryService struct {
	generations repository.GenerationRepository
	mailer      client.Mailer
	appURL      string
}

// NewDeliveryService creates a delivery service.
func NewDeliveryService(generations repository.GenerationRepository, mailer client.Mailer, appURL string) *DeliveryService {
	return &DeliveryService{
		generations: generations,
		mailer:      mailer,
		appURL:      strings.TrimRight(appURL, "/"),
	}
}

// BuildShareLinks returns one link per song and selected variation. Songs
// without a selection contribute every variation that has audio.
func (s *DeliveryService) BuildShareLinks(ctx context.Context, form *model.ComposeForm) ([]model.ShareLink, error) {
	type pick struct {
		song      int
		variation model.ComposeVariation
	}
	var picks []pick
	var taskIDs []string

	for _, song := range form.Songs {
		selected := map[string]bool{}
		for _, id := range song.Selection() {
			selected[id] = true
		}
		for _, v := range song.Variations {
			if v.AudioURL == "" {
				continue
			}
			if len(selected) > 0 && !selected[v.VariationID] {
				continue
			}
			picks = append(picks, pick{song: song.SongIndex, variation: v})
			if v.TaskID != "" {
				taskIDs = append(taskIDs, v.TaskID)
			}
		}
	}

	gens, err := s.generations.FindByTaskIDs(ctx, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("load generations: %w", err)
	}
	byTask := make(map[string]*model.MusicGeneration, len(gens))
	for i := range gens {
		byTask[gens[i].TaskID] = &gens[i]
	}

	links := make([]model.ShareLink, 0, len(picks))
	for _, p := range picks {
		links = append(links, model.ShareLink{
			SongIndex:   p.song,
			VariationID: p.variation.VariationID,
			Title:       p.variation.Title,
			URL:         s.shareURL(byTask[p.variation.TaskID], p.variation.AudioURL),
		})
	}
	return links, nil
}

// shareURL points at the public song page of the matching slot, or at the raw
// audio when the generation is unknown.
func (s *DeliveryService) shareURL(gen *model.MusicGeneration, audioURL string) string {
	if gen == nil {
		return audioURL
	}
	slug := gen.ShareSlugV1
	if gen.SlotForAudio(audioURL) == 2 {
		slug = gen.ShareSlugV2
	}
	if slug == "" {
		return audioURL
	}
	return fmt.Sprintf("%s/song/%s", s.appURL, slug)
}

// Send emails the links to the buyer.
func (s *DeliveryService) Send(ctx context.Context, to, recipientName string, links []model.ShareLink) error {
	if to == "" {
		return fmt.Errorf("delivery email has no recipient")
	}
	if len(links) == 0 {
		return fmt.Errorf("delivery email has no links")
	}

	var body bytes.Buffer
	if err := deliveryTemplate.Execute(&body, struct {
		Recipient string
		Links     []model.ShareLink
	}{recipientName, links}); err != nil {
		return fmt.Errorf("render delivery email: %w", err)
	}

	subject := "Your Huggnote song is ready"
	if recipientName != "" {
		subject = fmt.Sprintf("Your song for %s is ready", recipientName)
	}

	if err := s.mailer.Send(ctx, &client.Email{To: to, Subject: subject, HTML: body.String()}); err != nil {
		return err
	}
	fiberlog.Infof("[Delivery] sent %d links to %s", len(links), to)
	return nil
}
