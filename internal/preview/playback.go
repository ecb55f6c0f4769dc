package preview

import (
	"clipstudio/internal/metrics"
	"clipstudio/internal/timeline"
)

func (o *Orchestrator) startTicker() {
	if o.stopTick != nil {
		return
	}
	o.armTick()
}

func (o *Orchestrator) armTick() {
	o.stopTick = o.loop.AfterFunc(o.opts.TickInterval, func() {
		o.stopTick = nil
		o.tick()
	})
}

func (o *Orchestrator) stopTicker() {
	if o.stopTick != nil {
		o.stopTick()
		o.stopTick = nil
	}
}

// tick samples the voice clock, refreshes the frame and re-arms itself
// while playback continues.
func (o *Orchestrator) tick() {
	if o.engine == nil {
		return
	}
	metrics.PreviewTicksTotal.Inc()
	o.engine.Tick()
	o.refreshFrame(false)
	if o.engine.Playing() {
		o.armTick()
	}
}

// refreshFrame maps the engine clock onto the project and publishes the
// resulting frame. A segment change starts a transition; force re-resolves
// image URLs even when the segment did not change.
func (o *Orchestrator) refreshFrame(force bool) {
	if o.engine == nil {
		return
	}
	t := o.engine.CurrentTime()
	pos := timeline.Map(t, o.project)

	pb := &o.playback
	pb.CurrentTime = t
	pb.Duration = o.project.Duration()
	pb.IsPlaying = o.engine.Playing()
	pb.ActiveSubtitleText = pos.SubtitleText
	pb.VoiceVolume = o.engine.VoiceGain()
	pb.MusicVolume = o.engine.MusicGain()
	pb.ShowSubtitles = o.settings.Subtitles().ShowSubtitles

	switch {
	case pos.SegmentIndex != pb.ActiveSegmentIndex:
		prevImage := pb.ActiveImage
		pb.ActiveSegmentIndex = pos.SegmentIndex
		pb.ActiveImage = o.segmentImage(pos.SegmentIndex)
		pb.CurrentEffect = timeline.EffectAt(o.effects, pos.SegmentIndex)
		if prevImage != "" && prevImage != pb.ActiveImage {
			o.beginTransition(prevImage)
		}
	case force:
		pb.ActiveImage = o.segmentImage(pos.SegmentIndex)
	}
	o.publishPlayback()
}

// beginTransition keeps prevImage visible for the transition duration. A
// newer transition cancels the timer of the one it supersedes.
func (o *Orchestrator) beginTransition(prevImage string) {
	if o.cancelTransition != nil {
		o.cancelTransition()
	}
	o.playback.PreviousImage = prevImage
	o.cancelTransition = o.loop.AfterFunc(o.opts.TransitionDuration, func() {
		o.cancelTransition = nil
		if o.engine == nil {
			return
		}
		o.playback.PreviousImage = ""
		o.publishPlayback()
	})
}

func (o *Orchestrator) segmentImage(i int) string {
	seg, ok := o.project.Segment(i)
	if !ok {
		return ""
	}
	return o.resolver.URL(o.project.ID, seg.ImagePath)
}
