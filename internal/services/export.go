package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"vibecards-backend/internal/models"
)

const (
	ExportFormatJSON = "json"
	ExportFormatXLSX = "xlsx"

	cardsSheet = "Cards"
)

type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// ExportFileName derives the download name from the deck title, with every
// whitespace run replaced by a dash.
func ExportFileName(title, ext string) string {
	return whitespaceRun.ReplaceAllString(title, "-") + "." + ext
}

// Export renders an owned deck as a downloadable file.
func (s *DeckService) Export(ctx context.Context, ownerID, id uuid.UUID, format string) (*ExportFile, error) {
	if format == "" {
		format = ExportFormatJSON
	}
	if format != ExportFormatJSON && format != ExportFormatXLSX {
		return nil, newValidationError("format", "format must be json or xlsx")
	}

	deck, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if format == ExportFormatXLSX {
		data, err := deckWorkbook(deck)
		if err != nil {
			return nil, fmt.Errorf("export deck %s: %w", id, err)
		}
		return &ExportFile{
			Filename:    ExportFileName(deck.Title, ExportFormatXLSX),
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	}

	data, err := json.MarshalIndent(models.DeckExport{
		ID:    deck.ID,
		Title: deck.Title,
		Topic: deck.Topic,
		Cards: deck.Cards,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export deck %s: %w", id, err)
	}
	return &ExportFile{
		Filename:    ExportFileName(deck.Title, ExportFormatJSON),
		ContentType: "application/json",
		Data:        data,
	}, nil
}

func deckWorkbook(deck *models.Deck) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", cardsSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(cardsSheet, "A1", &[]interface{}{"#", "Front", "Back"}); err != nil {
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(cardsSheet, "A1", "C1", header); err != nil {
		return nil, err
	}

	for i, card := range deck.Cards {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(cardsSheet, cell, &[]interface{}{i + 1, card.Front, card.Back}); err != nil {
			return nil, err
		}
	}

	if err := f.SetColWidth(cardsSheet, "B", "C", 60); err != nil {
		return nil, err
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: deck.Title, Subject: deck.Topic, Creator: "VibeCards"}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
