package token

type Repo interface {
	Upsert(record *Record) error
	Get(userID string) (*Record, error)
	Delete(userID string) error
}
