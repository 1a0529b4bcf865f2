package handler

import "classattend/internal/model"

// Stored entities keep their id in the document path, so responses add it
// back alongside the fields.

type classroomView struct {
	model.Classroom
	ID string `json:"id"`
}

type sessionView struct {
	model.CheckinSession
	ID string `json:"id"`
}

type questionView struct {
	model.Question
	ID string `json:"id"`
}

type answerView struct {
	model.Answer
	ID string `json:"id"`
}

type memberView struct {
	model.Member
	ID string `json:"id"`
}

type profileView struct {
	model.UserProfile
	ID string `json:"id"`
}

func views[T, V any](in []T, view func(T) V) []V {
	out := make([]V, len(in))
	for i, v := range in {
		out[i] = view(v)
	}
	return out
}

func viewClassroom(c model.Classroom) classroomView  { return classroomView{c, c.ID} }
func viewSession(s model.CheckinSession) sessionView { return sessionView{s, s.ID} }
func viewQuestion(q model.Question) questionView     { return questionView{q, q.ID} }
func viewAnswer(a model.Answer) answerView           { return answerView{a, a.ID} }
func viewMember(m model.Member) memberView           { return memberView{m, m.ID} }
func viewProfile(p model.UserProfile) profileView    { return profileView{p, p.ID} }
