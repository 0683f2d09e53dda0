package policy

// Visible is implemented by resources that carry a public/private flag.
type Visible interface {
	IsPublic() bool
}

// Ownable is implemented by resources that belong to a principal.
type Ownable interface {
	OwnerID() string
}

// Bucket is a container of objects in the storage service.
type Bucket struct {
	Name   string `json:"name"`
	Public bool   `json:"public"`
	Owner  string `json:"owner_id"`
}

func (b *Bucket) IsPublic() bool  { return b.Public }
func (b *Bucket) OwnerID() string { return b.Owner }

// Table is a structured-data resource.
type Table struct {
	Name   string `json:"name"`
	Public bool   `json:"public"`
	Owner  string `json:"owner_id"`
}

func (t *Table) IsPublic() bool  { return t.Public }
func (t *Table) OwnerID() string { return t.Owner }

// File is an object inside a bucket. Files carry no public flag of
// their own: visibility and ownership resolve through the bucket.
type File struct {
	Key    string
	Bucket *Bucket
}

func (f *File) IsPublic() bool {
	return f.Bucket != nil && f.Bucket.IsPublic()
}

func (f *File) OwnerID() string {
	if f.Bucket == nil {
		return ""
	}
	return f.Bucket.OwnerID()
}
