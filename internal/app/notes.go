package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"barriers/api/internal/history"
	"barriers/api/internal/notes"
	"barriers/api/internal/notify"
	"barriers/api/internal/rbac"
	"barriers/api/internal/store"
)

func noteModel(kind notes.Kind) string {
	if kind == notes.KindPublic {
		return history.ModelPublicNote
	}
	return history.ModelNote
}

func (s *Service) ListNotes(ctx context.Context, actor Actor, barrierID uuid.UUID, kind notes.Kind) ([]notes.Note, error) {
	if _, err := s.loadBarrier(ctx, actor, barrierID); err != nil {
		return nil, err
	}
	all, err := s.store.ListNotes(ctx, barrierID, kind)
	if err != nil {
		return nil, err
	}
	out := []notes.Note{}
	for _, n := range all {
		if !n.Archived {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Service) GetNote(ctx context.Context, actor Actor, id uuid.UUID) (notes.Note, error) {
	n, err := s.store.GetNote(ctx, id)
	if err != nil {
		return notes.Note{}, err
	}
	if n.Archived {
		return notes.Note{}, errNotFound("note")
	}
	if _, err := s.loadBarrier(ctx, actor, n.BarrierID); err != nil {
		return notes.Note{}, err
	}
	return n, nil
}

// CreateNote posts a note on a barrier or its public twin. Any editor may
// post; users mentioned by email are notified.
func (s *Service) CreateNote(ctx context.Context, actor Actor, barrierID uuid.UUID, kind notes.Kind, in notes.Input) (notes.Note, error) {
	if err := s.require(actor, rbac.ActionWrite); err != nil {
		return notes.Note{}, err
	}
	var created notes.Note
	_, err := s.mutate(ctx, actor, barrierID, "create_note", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		n, err := notes.New(barrierID, kind, m.actor.ID, in, m.now)
		if err != nil {
			return err
		}
		if err := m.attachDocuments(n.Documents); err != nil {
			return err
		}
		if err := m.tx.SaveNote(m.ctx, n); err != nil {
			return err
		}
		if err := m.rec.Object(noteModel(kind), n.ID.String(), nil, n.Fields()); err != nil {
			return err
		}
		created = n
		return m.mention(n)
	})
	return created, err
}

// EditNote changes the text, pin or documents of a note. Only the author may
// edit. Users newly mentioned by the edit are notified.
func (s *Service) EditNote(ctx context.Context, actor Actor, id uuid.UUID, in notes.Input) (notes.Note, error) {
	var edited notes.Note
	err := s.withNote(ctx, actor, id, "edit_note", func(m *mutation, n notes.Note) error {
		before := n.Fields()
		if err := n.Edit(m.actor.ID, in, m.now); err != nil {
			return err
		}
		if err := m.attachDocuments(n.Documents); err != nil {
			return err
		}
		if err := m.tx.SaveNote(m.ctx, n); err != nil {
			return err
		}
		if err := m.rec.Object(noteModel(n.Kind), n.ID.String(), before, n.Fields()); err != nil {
			return err
		}
		if err := m.detachDocuments(n.Kind); err != nil {
			return err
		}
		edited = n
		return m.mention(n)
	})
	return edited, err
}

// ArchiveNote soft-deletes a note. Documents no longer attached to any live
// note become eligible for purging.
func (s *Service) ArchiveNote(ctx context.Context, actor Actor, id uuid.UUID) error {
	return s.withNote(ctx, actor, id, "archive_note", func(m *mutation, n notes.Note) error {
		before := n.Fields()
		if err := n.Archive(m.actor.ID, m.now); err != nil {
			return err
		}
		if err := m.tx.SaveNote(m.ctx, n); err != nil {
			return err
		}
		if err := m.rec.Object(noteModel(n.Kind), n.ID.String(), before, n.Fields()); err != nil {
			return err
		}
		return m.detachDocuments(n.Kind)
	})
}

func (s *Service) withNote(ctx context.Context, actor Actor, id uuid.UUID, op string, fn func(m *mutation, n notes.Note) error) error {
	if err := s.require(actor, rbac.ActionWrite); err != nil {
		return err
	}
	n, err := s.store.GetNote(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, actor, n.BarrierID, op, func(m *mutation) error {
		current, err := m.tx.GetNote(m.ctx, id)
		if err != nil {
			return err
		}
		return fn(m, current)
	})
	return err
}

// attachDocuments checks that every referenced document exists and still
// has its object, and marks them attached.
func (m *mutation) attachDocuments(ids []uuid.UUID) error {
	for _, id := range ids {
		d, err := m.tx.GetDocument(m.ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", notes.ErrUnknownDocRef, id)
		}
		if err != nil {
			return err
		}
		if d.PurgedOn != nil {
			return fmt.Errorf("%w: %s has been purged", notes.ErrUnknownDocRef, id)
		}
		if d.Detached {
			d.Detached = false
			if err := m.tx.SaveDocument(m.ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// detachDocuments flags documents left referenced only by archived notes.
func (m *mutation) detachDocuments(kind notes.Kind) error {
	all, err := m.tx.ListNotes(m.ctx, m.barrier.ID, kind)
	if err != nil {
		return err
	}
	for _, id := range notes.DetachedDocuments(all) {
		d, err := m.tx.GetDocument(m.ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if d.Detached {
			continue
		}
		d.Detached = true
		if err := m.tx.SaveDocument(m.ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// mention creates inbox items for users mentioned in n who have not been
// mentioned by it before, and emails them after commit.
func (m *mutation) mention(n notes.Note) error {
	emails := notes.MentionedEmails(n.Text)
	if len(emails) == 0 {
		return nil
	}
	users, err := m.tx.UsersByEmail(m.ctx, emails)
	if err != nil {
		return err
	}
	existing, err := m.tx.MentionsForNote(m.ctx, n.ID)
	if err != nil {
		return err
	}
	already := make([]uuid.UUID, 0, len(existing))
	for _, e := range existing {
		already = append(already, e.Recipient)
	}
	recipients := make([]uuid.UUID, 0, len(users))
	byID := make(map[uuid.UUID]store.User, len(users))
	for _, u := range users {
		recipients = append(recipients, u.ID)
		byID[u.ID] = u
	}
	mentions := notes.NewMentions(n, recipients, already, m.now)
	if len(mentions) == 0 {
		return nil
	}
	if err := m.tx.InsertMentions(m.ctx, mentions); err != nil {
		return err
	}
	snapshot := m.barrier.Clone()
	author := m.actor.Name
	for _, mention := range mentions {
		u := byID[mention.Recipient]
		notice := notify.MentionNotice{
			To:            u.Email,
			RecipientName: u.Name,
			AuthorName:    author,
			Barrier:       snapshot,
			Text:          n.Text,
		}
		m.afterCommit(func() { m.service.notifier.Mention(notice) })
	}
	return nil
}

// ListMentions returns the caller's inbox, newest first.
func (s *Service) ListMentions(ctx context.Context, actor Actor) ([]notes.Mention, error) {
	mentions, err := s.store.ListMentions(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if mentions == nil {
		mentions = []notes.Mention{}
	}
	return mentions, nil
}

func (s *Service) MentionCounts(ctx context.Context, actor Actor) (notes.Counts, error) {
	mentions, err := s.store.ListMentions(ctx, actor.ID)
	if err != nil {
		return notes.Counts{}, err
	}
	return notes.Count(mentions), nil
}

// MarkMention sets the read flag of one of the caller's mentions.
func (s *Service) MarkMention(ctx context.Context, actor Actor, id uuid.UUID, read bool) (notes.Mention, error) {
	var out notes.Mention
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Queries) error {
		mention, err := tx.GetMention(ctx, id)
		if err != nil {
			return err
		}
		if mention.Recipient != actor.ID {
			return errNotFound("mention")
		}
		mention.ReadByRecipient = read
		out = mention
		return tx.SaveMention(ctx, mention)
	})
	return out, err
}
