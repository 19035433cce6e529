package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ReportService renders a session engagement report as an Excel
// workbook for download by the host.
type ReportService struct {
	engagement *EngagementService
	profiles   *ProfileService
}

// NewReportService creates a report service.
func NewReportService(engagement *EngagementService, profiles *ProfileService) *ReportService {
	return &ReportService{engagement: engagement, profiles: profiles}
}

var reportHeaders = []string{
	"Student", "Messages", "Mean length", "Subtasks done",
	"Off-topic ratio", "Flagged", "Quality score", "Quality comment",
}

// SessionReport builds the workbook: one row per student with the
// stored engagement counters and scores.
func (s *ReportService) SessionReport(ctx context.Context, hostID, sessionID string) ([]byte, error) {
	engagements, err := s.engagement.ListBySession(ctx, hostID, sessionID)
	if err != nil {
		return nil, err
	}

	studentIDs := make([]string, 0, len(engagements))
	for _, e := range engagements {
		studentIDs = append(studentIDs, e.StudentID)
	}
	profiles, err := s.profiles.GetMany(ctx, studentIDs)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Engagement"
	f.SetSheetName("Sheet1", sheet)

	for col, header := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, e := range engagements {
		name := e.StudentID
		if profile, ok := profiles[e.StudentID]; ok {
			name = profile.DisplayName
		}

		values := []any{
			name,
			e.MessageCount,
			e.MeanMessageLen,
			e.SubtaskRatio,
			e.OffTopicRatio,
			flagLabel(e.ModerationFlag),
			e.QualityScore,
			e.QualityComment,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func flagLabel(flagged bool) string {
	if flagged {
		return "yes"
	}
	return "no"
}
