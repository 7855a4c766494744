package mnemonic

// wordlist is the fixed vocabulary phrases are drawn from: 256 short,
// unambiguous English words (8 bits per drawn position).
var wordlist = []string{
	"acid", "acorn", "actor", "agree", "aim", "alarm", "album", "alley",
	"amber", "angle", "ankle", "apple", "april", "arch", "arena", "argue",
	"arrow", "aspen", "atlas", "attic", "autumn", "award", "axis", "bacon",
	"badge", "baker", "bamboo", "banjo", "barn", "basil", "basin", "beach",
	"bean", "beard", "beaver", "bell", "bench", "berry", "bird", "bison",
	"blade", "blank", "blaze", "bloom", "board", "boat", "bonus", "book",
	"boot", "border", "bottle", "brace", "brain", "brass", "brave", "bread",
	"brick", "bridge", "broom", "brush", "bubble", "bucket", "buddy", "bugle",
	"bunny", "butter", "cabin", "cable", "cactus", "camel", "candle", "canoe",
	"canyon", "carbon", "cargo", "carpet", "castle", "cedar", "cello", "chair",
	"chalk", "cherry", "chess", "chill", "choir", "cider", "cinema", "circle",
	"citrus", "clay", "cliff", "clock", "cloud", "clover", "coast", "cobalt",
	"cocoa", "coffee", "coin", "comet", "copper", "coral", "corn", "cotton",
	"cradle", "crane", "crater", "crayon", "creek", "cricket", "crown", "crystal",
	"cube", "cyclone", "daisy", "dawn", "deck", "delta", "denim", "desert",
	"dome", "donkey", "door", "dragon", "drift", "drum", "dune", "eagle",
	"easel", "echo", "editor", "elbow", "elder", "ember", "engine", "envoy",
	"fabric", "falcon", "fern", "ferry", "fiddle", "field", "finch", "flame",
	"flask", "flint", "flora", "flute", "foam", "forest", "fossil", "fox",
	"frame", "frost", "galaxy", "garden", "garlic", "gate", "gecko", "gem",
	"ginger", "glacier", "glass", "globe", "gold", "goose", "grain", "granite",
	"grape", "gravel", "grove", "guitar", "hammer", "harbor", "harp", "hazel",
	"heron", "hill", "honey", "horizon", "hotel", "house", "igloo", "index",
	"inlet", "iris", "iron", "island", "ivory", "jade", "jaguar", "jasmine",
	"jelly", "jungle", "juniper", "kayak", "kettle", "kiwi", "knight", "lagoon",
	"lake", "lantern", "laurel", "lava", "lemon", "lily", "linen", "lion",
	"lobster", "locket", "lotus", "lunar", "magnet", "maple", "marble", "meadow",
	"melon", "mesa", "mango", "mint", "mirror", "morning", "moss", "mountain",
	"mural", "nickel", "north", "nutmeg", "oasis", "ocean", "olive", "onion",
	"opal", "orbit", "orchid", "otter", "owl", "oyster", "palm", "panda",
	"paper", "parrot", "peach", "pearl", "pebble", "pencil", "penguin", "pepper",
	"piano", "pillow", "pine", "planet", "plum", "pond", "poppy", "prairie",
}
