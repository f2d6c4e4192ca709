package service

import "learning_platform_backend/internal/model"

func progressByChapter(list []model.ChapterProgress) map[uint]*model.ChapterProgress {
	out := make(map[uint]*model.ChapterProgress, len(list))
	for i := range list {
		out[list[i].ChapterID] = &list[i]
	}
	return out
}

func isPerfect(p *model.ChapterProgress) bool {
	return p != nil && p.BestScore != nil && *p.BestScore >= PerfectThreshold
}

// chapterGate 沿章节顺序判定解锁关系。
// 完璧限定章节只有在之前所有已完成章节都达到完璧线时才参与解锁与结业判定，否则被跳过。
type chapterGate struct {
	chapters []model.Chapter
	progress map[uint]*model.ChapterProgress
}

func newChapterGate(chapters []model.Chapter, progress []model.ChapterProgress) *chapterGate {
	return &chapterGate{chapters: chapters, progress: progressByChapter(progress)}
}

// perfectBefore 位置 idx 之前的已完成章节是否全部完璧
func (g *chapterGate) perfectBefore(idx int) bool {
	for i := 0; i < idx; i++ {
		p := g.progress[g.chapters[i].ID]
		if p != nil && p.Status == model.ChapterCompleted && !isPerfect(p) {
			return false
		}
	}
	return true
}

func (g *chapterGate) eligible(idx int) bool {
	ch := g.chapters[idx]
	if !ch.IsVisible {
		return false
	}
	if ch.IsPerfectOnly {
		if _, unlocked := g.progress[ch.ID]; unlocked {
			return true
		}
		return g.perfectBefore(idx)
	}
	return true
}

func (g *chapterGate) indexOf(chapterID uint) int {
	for i := range g.chapters {
		if g.chapters[i].ID == chapterID {
			return i
		}
	}
	return -1
}

// Next 返回 afterID 之后第一个可解锁章节，afterID 为 0 时从头开始
func (g *chapterGate) Next(afterID uint) *model.Chapter {
	start := 0
	if afterID != 0 {
		idx := g.indexOf(afterID)
		if idx < 0 {
			return nil
		}
		start = idx + 1
	}
	for i := start; i < len(g.chapters); i++ {
		if g.eligible(i) {
			ch := g.chapters[i]
			return &ch
		}
	}
	return nil
}

// Unlocked 已有进度行，或者之前所有需要学习的章节都已完成
func (g *chapterGate) Unlocked(chapterID uint) bool {
	if _, ok := g.progress[chapterID]; ok {
		return true
	}
	idx := g.indexOf(chapterID)
	if idx < 0 || !g.eligible(idx) {
		return false
	}
	for i := 0; i < idx; i++ {
		if !g.eligible(i) {
			continue
		}
		p := g.progress[g.chapters[i].ID]
		if p == nil || p.Status != model.ChapterCompleted {
			return false
		}
	}
	return true
}

// Required 参与结业判定的章节
func (g *chapterGate) Required() []model.Chapter {
	var out []model.Chapter
	for i := range g.chapters {
		ch := g.chapters[i]
		if !ch.IsVisible {
			continue
		}
		if ch.IsPerfectOnly {
			if _, unlocked := g.progress[ch.ID]; !unlocked {
				continue
			}
		}
		out = append(out, ch)
	}
	return out
}
