package attendance

import (
	"strings"

	"classattend/internal/docstore"
)

func userPath(uid string) string             { return docstore.Join("users", uid) }
func classroomPath(cid string) string        { return docstore.Join("classroom", cid) }
func membersPath(cid string) string          { return docstore.Join("classroom", cid, "students") }
func memberPath(cid, uid string) string      { return docstore.Join(membersPath(cid), uid) }
func sessionsPath(cid string) string         { return docstore.Join("classroom", cid, "checkin") }
func sessionPath(cid, sid string) string     { return docstore.Join(sessionsPath(cid), sid) }
func recordsPath(cid, sid string) string     { return docstore.Join(sessionPath(cid, sid), "students") }
func recordPath(cid, sid, uid string) string { return docstore.Join(recordsPath(cid, sid), uid) }
func questionsPath(cid, sid string) string   { return docstore.Join(sessionPath(cid, sid), "question") }
func questionPath(cid, sid, qid string) string {
	return docstore.Join(questionsPath(cid, sid), qid)
}
func answersPath(cid, sid, qid string) string {
	return docstore.Join(questionPath(cid, sid, qid), "answers")
}

// checkIDs rejects ids that would change the shape of a document path.
func checkIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" || strings.Contains(id, "/") {
			return invalid("bad id %q", id)
		}
	}
	return nil
}
