package gamelog

import (
	"context"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
	"go.uber.org/zap"
)

// publishLive and afterFinish run inline after the commit. Their failures never reach the
// lifecycle caller and never undo the database write.
func (s *Store) publishLive(ctx context.Context, snap LiveSnapshot) {
	if s.notifier == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, s.hookTimeout)
	defer cancel()
	if err := s.notifier.PublishLive(hctx, snap); err != nil {
		s.logger.Warn("gamelog_live_publish_failed", zap.String("game_id", snap.GameID), zap.Error(err))
	}
}

func (s *Store) afterFinish(ctx context.Context, fg FinishedGame) {
	if s.notifier != nil {
		hctx, cancel := context.WithTimeout(ctx, s.hookTimeout)
		if err := s.notifier.PublishFinished(hctx, fg); err != nil {
			s.logger.Warn("gamelog_finish_publish_failed", zap.String("game_id", fg.GameID), zap.Error(err))
		}
		cancel()
	}
	if s.archiver != nil {
		hctx, cancel := context.WithTimeout(ctx, s.hookTimeout)
		if err := s.archiver.SaveResult(hctx, fg); err != nil {
			s.logger.Warn("gamelog_archive_failed", zap.String("game_id", fg.GameID), zap.Error(err))
		}
		cancel()
	}
}

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// classifyOpening returns the deepest ECO entry matching a space-joined UCI move list.
func classifyOpening(movesUCI string) (code, title string) {
	fields := strings.Fields(movesUCI)
	if len(fields) == 0 {
		return "", ""
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	if ecoBook == nil {
		return "", ""
	}
	game := nchess.NewGame()
	for _, mv := range fields {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			break
		}
	}
	if eco := ecoBook.Find(game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}
