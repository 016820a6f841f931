package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Executor applies a rule's actions against one item through the
// collaborators. Collaborator failures are captured as per-action failed
// results and never abort sibling actions.
type Executor struct {
	collab *Collaborators
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an executor over the given collaborator set.
func NewExecutor(collab *Collaborators, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		collab: collab,
		logger: logger.With("component", "rules.executor"),
		now:    time.Now,
	}
}

// RunImmediate executes the immediate-phase actions for one matching item.
// delayed is only consulted to compute the {deletion_date} substitutions;
// none of its actions are executed here. With dryRun set, no collaborator
// call is made and every action reports dry_run.
func (e *Executor) RunImmediate(ctx context.Context, actions []Action, itemKey string, itemType ItemType, dryRun bool, delayed []Action, facts *Facts) []ActionResult {
	results := make([]ActionResult, 0, len(actions))

	originalTitle := ""
	if facts != nil {
		originalTitle = facts.Title
	}

	deletionDate, deletionDateReadable := "", ""
	if due := ScheduledDate(e.now(), delayed); due != nil {
		deletionDate = due.Format("2006-01-02")
		deletionDateReadable = due.Format("January 2, 2006")
	}

	for _, action := range actions {
		switch action.Kind {
		case ActionAddToCollection, ActionRemoveFromCollection, ActionSetTitleFormat, ActionClearTitleFormat:
		default:
			// Unknown immediate kinds produce no result entry.
			e.logger.Warn("skipping unknown immediate action", "action_type", string(action.Kind), "item_key", itemKey)
			continue
		}

		if dryRun {
			results = append(results, ActionResult{
				ActionType: action.Kind,
				Status:     StatusDryRun,
				Message:    fmt.Sprintf("Would execute %s", action.Kind),
			})
			continue
		}

		var res ActionResult
		switch action.Kind {
		case ActionAddToCollection:
			err := e.collab.Source.AddToCollection(ctx, itemKey, action.CollectionName, itemType)
			res = outcome(action.Kind, err,
				fmt.Sprintf("Added to collection %s", action.CollectionName),
				"Failed to add to collection")

		case ActionRemoveFromCollection:
			err := e.collab.Source.RemoveFromCollection(ctx, itemKey, action.CollectionName, itemType)
			res = outcome(action.Kind, err,
				fmt.Sprintf("Removed from collection %s", action.CollectionName),
				"Failed to remove from collection")

		case ActionSetTitleFormat:
			title := action.TitleFormat
			if originalTitle != "" {
				title = strings.ReplaceAll(title, "{title}", originalTitle)
			}
			if deletionDate != "" {
				title = strings.ReplaceAll(title, "{deletion_date}", deletionDate)
				title = strings.ReplaceAll(title, "{deletion_date_readable}", deletionDateReadable)
			}
			err := e.collab.Source.SetTitle(ctx, itemKey, title, itemType)
			res = outcome(action.Kind, err,
				fmt.Sprintf("Set title format to %s", title),
				"Failed to set title format")

		case ActionClearTitleFormat:
			err := e.collab.Source.ClearTitle(ctx, itemKey, itemType)
			res = outcome(action.Kind, err, "Cleared title format", "Failed to clear title format")
		}

		results = append(results, res)
	}

	return results
}

// RunDelayed executes one stored delayed action for a due candidate. The
// Radarr/Sonarr delete variants fall back to direct library deletion when
// the title is unknown to the download manager; the reported action type
// becomes the fallback type in that case.
func (e *Executor) RunDelayed(ctx context.Context, action Action, itemKey, itemTitle string, itemType ItemType, dryRun bool) ActionResult {
	if dryRun {
		return ActionResult{
			ActionType: action.Kind,
			Status:     StatusDryRun,
			Message:    fmt.Sprintf("Would execute %s", action.Kind),
		}
	}

	switch action.Kind {
	case ActionDeleteViaRadarr:
		return e.deleteViaManager(ctx, e.collab.Movies, action.Kind, itemKey, itemTitle,
			"Radarr not configured", "Movie not found in Radarr, deleted via Plex")

	case ActionDeleteViaSonarr:
		// Candidates store the season title; the series is looked up by the
		// show portion of it.
		showTitle := strings.TrimSpace(strings.SplitN(itemTitle, " - Season", 2)[0])
		return e.deleteViaManager(ctx, e.collab.Series, action.Kind, itemKey, showTitle,
			"Sonarr not configured", "Series not found in Sonarr, deleted via Plex")

	case ActionDeleteInPlex:
		err := e.collab.Source.DeleteItem(ctx, itemKey)
		return outcome(action.Kind, err, "Deleted from Plex", "Failed to delete from Plex")

	case ActionRemoveFromCollection:
		err := e.collab.Source.RemoveFromCollection(ctx, itemKey, action.CollectionName, itemType)
		return outcome(action.Kind, err,
			fmt.Sprintf("Removed from collection %s", action.CollectionName),
			"Failed to remove from collection")

	case ActionClearTitleFormat:
		err := e.collab.Source.ClearTitle(ctx, itemKey, itemType)
		return outcome(action.Kind, err, "Cleared title format", "Failed to clear title format")
	}

	e.logger.Warn("unknown delayed action", "action_type", string(action.Kind), "item_key", itemKey)
	return ActionResult{ActionType: action.Kind, Status: StatusFailed, Message: "Unknown action type"}
}

// deleteViaManager deletes through a download manager, falling back to
// direct library deletion when the title is not found there.
func (e *Executor) deleteViaManager(ctx context.Context, mgr DownloadManager, kind ActionKind, itemKey, title, unconfiguredMsg, fallbackMsg string) ActionResult {
	if mgr == nil {
		return ActionResult{ActionType: kind, Status: StatusFailed, Message: unconfiguredMsg}
	}

	ref, err := mgr.FindByTitle(ctx, title)
	if err != nil {
		return ActionResult{ActionType: kind, Status: StatusFailed, Message: err.Error()}
	}

	if ref != nil {
		msg, err := mgr.DeleteWithFiles(ctx, ref.ID)
		if err != nil {
			return ActionResult{ActionType: kind, Status: StatusFailed, Message: err.Error()}
		}
		return ActionResult{ActionType: kind, Status: StatusSuccess, Message: msg}
	}

	// Not found in the download manager: remove from the library directly.
	// The result reports the fallback type, not an additional action.
	if err := e.collab.Source.DeleteItem(ctx, itemKey); err != nil {
		return ActionResult{ActionType: ActionDeleteInPlex, Status: StatusFailed, Message: err.Error()}
	}
	return ActionResult{ActionType: ActionDeleteInPlex, Status: StatusSuccess, Message: fallbackMsg}
}

func outcome(kind ActionKind, err error, okMsg, failMsg string) ActionResult {
	if err != nil {
		return ActionResult{ActionType: kind, Status: StatusFailed, Message: fmt.Sprintf("%s: %v", failMsg, err)}
	}
	return ActionResult{ActionType: kind, Status: StatusSuccess, Message: okMsg}
}
