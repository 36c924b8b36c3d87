package app

import (
	"context"
	"fmt"
	"time"

	"github.com/home-sentinel/edge/internal/detect"
	"github.com/home-sentinel/edge/internal/presence"
)

// recognizedFace is one accepted identity match within a frame
type recognizedFace struct {
	name       string
	similarity float64
	personBox  detect.BoundingBox
}

// runDetectionLoop is the engine's main loop: pull the latest frame, detect,
// resolve identities, debounce, and report transitions. One frame is fully
// processed before the next is pulled; frames that arrive meanwhile are
// dropped by the latest-frame slot.
func (a *App) runDetectionLoop(ctx context.Context) {
	s := a.cfg.Sentinel

	var (
		lastFrameID uint64
		prevStable  = make(map[string]struct{})
		lastShot    = make(map[string]time.Time)
		lastSweep   = time.Now()
	)

	for ctx.Err() == nil {
		frame, frameID, _ := a.supervisor.Latest()
		if frame == nil || frameID == lastFrameID {
			time.Sleep(s.Stream.PullRetryDelay)
			if err := a.supervisor.Poll(ctx); err != nil {
				return
			}
			a.setStreamState(a.supervisor.State())
			continue
		}
		lastFrameID = frameID
		if err := a.supervisor.Poll(ctx); err != nil {
			return
		}
		a.setStreamState(a.supervisor.State())

		detections, err := a.objects.Detect(ctx, frame.Data)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("Object detection failed", "error", err.Error(), "frame_id", frameID)
			time.Sleep(s.Stream.PullRetryDelay)
			continue
		}

		seen := make(map[string]struct{}, len(detections))
		var personBoxes []detect.BoundingBox
		for _, det := range detections {
			seen[det.Label] = struct{}{}
			if det.Label == "person" {
				personBoxes = append(personBoxes, det.Box)
			}
		}

		recognized := a.recognizeFaces(ctx, frame.Data, frameID, personBoxes)
		if len(recognized) > 0 {
			// A recognized person replaces the generic label, carrying its
			// already-earned hysteresis along
			delete(seen, "person")
			named := make([]string, 0, len(recognized))
			for _, face := range recognized {
				label := fmt.Sprintf("person(%s)", face.name)
				seen[label] = struct{}{}
				named = append(named, label)
			}
			a.debouncer.Transplant("person", named)
		}

		stable := a.debouncer.Tick(seen)
		added, removed := presence.Diff(prevStable, stable)
		if len(added) > 0 || len(removed) > 0 {
			a.logger.Info("Presence changed", "added", added, "removed", removed)
			a.sinks.RecordPresence(ctx, added, removed, presence.Labels(stable), frame.CapturedAt)
		}
		prevStable = stable
		a.setStable(stable)

		for _, face := range recognized {
			a.reportFace(ctx, frame.Data, face, lastShot)
		}

		if a.cfg.Sentinel.Correlation.Enabled && time.Since(lastSweep) > s.Correlation.Window {
			a.correlator.Sweep(time.Now())
			lastSweep = time.Now()
		}
	}
}

// recognizeFaces crops each person detection, embeds the crops and resolves
// them against the gallery. Duplicate names within a frame collapse to the
// strongest match.
func (a *App) recognizeFaces(ctx context.Context, frameData []byte, frameID uint64, personBoxes []detect.BoundingBox) []recognizedFace {
	if len(personBoxes) == 0 || a.resolver.GallerySize() == 0 {
		return nil
	}
	s := a.cfg.Sentinel.Faces

	byName := make(map[string]recognizedFace)
	for _, box := range personBoxes {
		crop, err := cropJPEG(frameData, box, s.PaddingRatio, s.MinFaceSize)
		if err != nil {
			a.logger.Debug("Skipping person crop", "reason", err.Error())
			continue
		}

		faces, err := a.faces.Embed(ctx, crop)
		if err != nil {
			a.logger.Warn("Face embedding failed", "error", err.Error())
			continue
		}

		boxSize := int(box.Width())
		if int(box.Height()) > boxSize {
			boxSize = int(box.Height())
		}

		for _, face := range faces {
			match, ok := a.resolver.Match(frameID, face.Embedding, boxSize)
			if !ok {
				continue
			}
			if prev, exists := byName[match.Name]; !exists || match.Similarity > prev.similarity {
				byName[match.Name] = recognizedFace{
					name:       match.Name,
					similarity: match.Similarity,
					personBox:  box,
				}
			}
		}
	}

	if len(byName) == 0 {
		return nil
	}
	out := make([]recognizedFace, 0, len(byName))
	for _, face := range byName {
		out = append(out, face)
	}
	return out
}

// reportFace saves an annotated screenshot (rate limited per person) and
// feeds the recognition to the sinks and the correlator
func (a *App) reportFace(ctx context.Context, frameData []byte, face recognizedFace, lastShot map[string]time.Time) {
	now := time.Now()
	cooldown := a.cfg.Sentinel.MQTT.EventCooldown

	var screenshotRef string
	if a.screenshots.Enabled() {
		if last, ok := lastShot[face.name]; !ok || now.Sub(last) >= cooldown {
			ref, err := a.screenshots.Save(frameData, []detect.BoundingBox{face.personBox}, face.name)
			if err != nil {
				a.logger.Warn("Screenshot save failed", "error", err.Error())
			} else {
				screenshotRef = ref
				lastShot[face.name] = now
			}
		}
	}

	a.sinks.RecordFace(ctx, face.name, face.similarity, screenshotRef, now)

	if a.cfg.Sentinel.Correlation.Enabled {
		a.correlator.OnFace(face.name, screenshotRef, now)
	}
}
